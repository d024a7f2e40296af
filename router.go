package client

type Router interface {
	Route(key string) *Conn
	Conns() []*Conn
	Shutdown()
}

type DirectRouter struct {
	conn *Conn
}

func NewDirectRouter(c *Conn) *DirectRouter {
	return &DirectRouter{conn: c}
}

func (r *DirectRouter) Route(key string) *Conn {
	return r.conn
}

func (r *DirectRouter) Conns() []*Conn {
	return []*Conn{r.conn}
}

func (r *DirectRouter) Shutdown() {
	r.conn.Shutdown()
}
