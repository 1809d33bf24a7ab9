package tracker

var WithClock = withClock
