package sockthread

// Option configures a Worker.
type Option func(*options)

type options struct {
	name string
}

// WithName sets the name used in lifecycle log lines.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}
