package effects

// frame is a pending continuation on a driver's stack.
type frame interface {
	sealedFrame()
	prevFrame() frame
}

type frameLink struct {
	prev frame
}

func (l frameLink) prevFrame() frame { return l.prev }

type (
	applyFrame struct {
		frameLink
		k func(any) instruction
	}
	mapFrame struct {
		frameLink
		f func(any) any
	}
	foldFrame struct {
		frameLink
		onFailure func(Cause) instruction
		onSuccess func(any) instruction
	}
	// interruptFrame leaves an interruptibility region.
	interruptFrame struct {
		frameLink
	}
	// envFrame leaves a Provide scope.
	envFrame struct {
		frameLink
	}
)

func (*applyFrame) sealedFrame()     {}
func (*mapFrame) sealedFrame()       {}
func (*foldFrame) sealedFrame()      {}
func (*interruptFrame) sealedFrame() {}
func (*envFrame) sealedFrame()       {}
