package ftp

// Transfer directions reported to Observer.BytesTransferred.
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
	DirectionListing  = "listing"
)

// Observer receives server events. Implementations must be safe for
// concurrent use.
type Observer interface {
	SessionOpened()
	SessionClosed()
	// Command is called for every received command. known is false for
	// commands the server does not implement.
	Command(name string, known bool)
	Login(success bool)
	BytesTransferred(direction string, n int64)
}

type nopObserver struct{}

func (nopObserver) SessionOpened()                 {}
func (nopObserver) SessionClosed()                 {}
func (nopObserver) Command(string, bool)           {}
func (nopObserver) Login(bool)                     {}
func (nopObserver) BytesTransferred(string, int64) {}
