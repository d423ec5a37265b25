package payment

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// record is the stored form of any gateway outcome.
type record struct {
	ID      string
	Status  Status
	Message string
}

func (r record) encode() []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(r.ID)
	e.FieldStart("status")
	e.Str(string(r.Status))
	if r.Message != "" {
		e.FieldStart("message")
		e.Str(r.Message)
	}
	e.ObjEnd()
	return e.Bytes()
}

func decodeRecord(data []byte) (record, error) {
	var r record
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			r.ID = v
			return err
		case "status":
			v, err := d.Str()
			r.Status = Status(v)
			return err
		case "message":
			v, err := d.Str()
			r.Message = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return record{}, errors.Wrap(err, "decode payment record")
	}
	if r.Status == "" {
		return record{}, errors.New("decode payment record: missing status")
	}
	return r, nil
}
