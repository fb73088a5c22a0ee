package server

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla websocket connection to session.Conn. All frames
// are binary; gorilla permits one concurrent writer, so writes are
// serialized with a mutex (the error notification in session close can
// race the write loop).
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
