package signaling

// Handler routes incoming relay messages to typed channels.
//
// Room notices (peer-joined, peer-left) and signals share Events so they
// are consumed in the order the relay sent them. Events is never dropped
// from; the handler blocks until it is read or the connection closes.
type Handler struct {
	client *Client
	Joined chan *Message
	Events chan *Message
	Error  chan *ServerError
	Done   chan struct{}
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client: client,
		Joined: make(chan *Message, 1),
		Events: make(chan *Message, 64),
		Error:  make(chan *ServerError, 4),
		Done:   make(chan struct{}),
	}
}

// Start routes messages until the connection closes, then closes Done.
func (h *Handler) Start() {
	defer close(h.Done)

	for msg := range h.client.Incoming() {
		switch msg.Type {

		case MessageTypeJoined:
			notify(h.Joined, msg)

		case MessageTypePeerJoined, MessageTypePeerLeft,
			MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate, MessageTypeHangup:
			select {
			case h.Events <- msg:
			case <-h.client.done:
				return
			}

		case MessageTypeError:
			notify(h.Error, &ServerError{Code: msg.Code, Message: msg.Error})

		default:
		}
	}
}

// notify delivers v unless ch is full. Acks and errors are informational;
// only the most recent ones matter to the UI.
func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
