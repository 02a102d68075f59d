package docstore

import "time"

type Document struct {
	ID   string
	Path string
	Data Fields
}

func newDocument(path string, data Fields) *Document {
	return &Document{ID: idOf(path), Path: path, Data: data}
}

func (d *Document) Has(key string) bool {
	_, ok := d.Data[key]
	return ok
}

func (d *Document) String(key string) string {
	s, _ := d.Data[key].(string)
	return s
}

func (d *Document) Bool(key string) bool {
	b, _ := d.Data[key].(bool)
	return b
}

// Time returns the zero time when the field is missing or not a timestamp.
func (d *Document) Time(key string) time.Time {
	t, _ := d.Data[key].(time.Time)
	return t
}

func (d *Document) Int(key string) int {
	switch v := d.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float reports whether the field holds a number.
func (d *Document) Float(key string) (float64, bool) {
	switch v := d.Data[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (d *Document) Strings(key string) []string {
	switch v := d.Data[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
