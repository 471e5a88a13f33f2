package logger

// RestyAdapter satisfies resty.Logger so HTTP client retries and
// failures land in the structured log stream.
type RestyAdapter struct {
	l *Logger
}

// ForResty wraps l for use with resty.Client.SetLogger.
func ForResty(l *Logger, upstream string) *RestyAdapter {
	if l == nil {
		l = GetDefault()
	}
	return &RestyAdapter{l: l.WithField(FieldUpstream, upstream)}
}

func (a *RestyAdapter) Errorf(format string, v ...interface{}) { a.l.Errorf(format, v...) }
func (a *RestyAdapter) Warnf(format string, v ...interface{})  { a.l.Warnf(format, v...) }
func (a *RestyAdapter) Debugf(format string, v ...interface{}) { a.l.Debugf(format, v...) }
