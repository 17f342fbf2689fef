package emit

// Multi fans events out to several emitters in order. Nil entries are ignored.
func Multi(emitters ...Emitter) Emitter {
	out := make(multi, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multi []Emitter

func (m multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
