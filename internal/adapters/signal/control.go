package signal

func (ctl *Controller) handlePing(cs *connState) {
	ctl.send(cs, "pong", nil)
}
