package effects

// The helpers below are the only places user code is called from the driver.
// A panic is turned into an Abort carrying the panicking stack.

func try(f func() instruction) (next instruction) {
	defer func() {
		if r := recover(); r != nil {
			next = &fail{cause: abortOf(r)}
		}
	}()
	return f()
}

func tryValue(f func() any) (v any, cause Cause) {
	defer func() {
		if r := recover(); r != nil {
			cause = abortOf(r)
		}
	}()
	return f(), nil
}

func tryCall(f func()) (cause Cause) {
	defer func() {
		if r := recover(); r != nil {
			cause = abortOf(r)
		}
	}()
	f()
	return nil
}

func tryPartial(p *partial) (v any, cause Cause) {
	defer func() {
		if r := recover(); r != nil {
			cause = abortOf(r)
		}
	}()
	v, err := p.thunk()
	if err == nil {
		return v, nil
	}
	if p.onError != nil {
		err = p.onError(err)
	}
	return nil, Raise{Err: err}
}
