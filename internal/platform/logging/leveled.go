package logging

// Leveled is the printf-style surface domain packages log through.
type Leveled interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type nop struct{}

func (nop) Debug(string, ...interface{}) {}
func (nop) Info(string, ...interface{})  {}
func (nop) Warn(string, ...interface{})  {}
func (nop) Error(string, ...interface{}) {}

// Nop returns a Leveled that drops everything.
func Nop() Leveled { return nop{} }

type tagged struct {
	base *Logger
	tag  string
}

func (t tagged) Debug(msg string, args ...interface{}) { t.base.DebugTag(t.tag, msg, args...) }
func (t tagged) Info(msg string, args ...interface{})  { t.base.InfoTag(t.tag, msg, args...) }
func (t tagged) Warn(msg string, args ...interface{})  { t.base.WarnTag(t.tag, msg, args...) }
func (t tagged) Error(msg string, args ...interface{}) { t.base.ErrorTag(t.tag, msg, args...) }

// WithTag returns a Leveled that prefixes every message with tag.
func (l *Logger) WithTag(tag string) Leveled {
	if l == nil {
		return Nop()
	}
	return tagged{base: l, tag: tag}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Leveled) Leveled {
	if l == nil {
		return Nop()
	}
	return l
}
