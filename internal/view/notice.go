package view

// NoticeKind classifies a user-visible notification.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeSuccess
	NoticeError
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeSuccess:
		return "success"
	case NoticeError:
		return "error"
	default:
		return "info"
	}
}

// Notice is a non-blocking message for the user. UndoID is set on the
// "Task deleted" notice and names the task that can still be restored.
type Notice struct {
	Kind        NoticeKind
	Title       string
	Description string
	UndoID      string
}

// Notifier presents notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}
