package http1

// Handler produces the response for a decoded request.
type Handler interface {
	ServeRequest(*Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(*Request) Response

func (f HandlerFunc) ServeRequest(r *Request) Response {
	return f(r)
}
