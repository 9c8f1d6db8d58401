package chrome

// Flag is the session flag kept in the tab's sessionStorage, which the
// browser drops when the tab is closed.
type Flag struct {
	d *Document
}

func (f *Flag) op(name string) (bool, error) {
	var present bool
	err := f.d.call(&present, "flag", name)
	return present, err
}

func (f *Flag) Set() error {
	_, err := f.op("set")
	return err
}

func (f *Flag) Present() (bool, error) {
	return f.op("get")
}

func (f *Flag) Clear() error {
	_, err := f.op("clear")
	return err
}
