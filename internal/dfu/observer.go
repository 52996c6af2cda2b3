package dfu

import "go.uber.org/zap"

var nopLog = zap.NewNop().Sugar()

// Observer carries the log and progress sinks for one update run. It is
// constructed once per run and passed explicitly through every
// component; the engine keeps no process-global state.
type Observer struct {
	Log      *zap.SugaredLogger
	Progress func(percent int)
}

func (o Observer) logger() *zap.SugaredLogger {
	if o.Log != nil {
		return o.Log
	}
	return nopLog
}

func (o Observer) Debugf(format string, args ...any) { o.logger().Debugf(format, args...) }
func (o Observer) Infof(format string, args ...any)  { o.logger().Infof(format, args...) }
func (o Observer) Warnf(format string, args ...any)  { o.logger().Warnf(format, args...) }
func (o Observer) Errorf(format string, args ...any) { o.logger().Errorf(format, args...) }

func (o Observer) progress(percent int) {
	if o.Progress != nil {
		o.Progress(percent)
	}
}
