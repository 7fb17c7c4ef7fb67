package projection

// Lifecycle decides when a projection is recomputed. It is fixed per
// projection at registration time.
type Lifecycle string

const (
	// LifecycleInline folds synchronously inside the appending transaction.
	LifecycleInline Lifecycle = "inline"
	// LifecycleAsync folds in a background daemon catching up from a
	// durable checkpoint.
	LifecycleAsync Lifecycle = "async"
	// LifecycleLive folds on every read by replaying the stream, never
	// persisting the result.
	LifecycleLive Lifecycle = "live"
)

func (l Lifecycle) valid() bool {
	switch l {
	case LifecycleInline, LifecycleAsync, LifecycleLive:
		return true
	}
	return false
}
