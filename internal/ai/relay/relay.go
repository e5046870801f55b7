// Package relay 把上游流式响应原样转发给客户端
package relay

import (
	"errors"
	"io"
	"net/http"
)

const bufferSize = 4096

// Stream 写入响应头后逐块转发 body，每次写入都 flush，不缓冲也不改写内容
// 返回已写出的字节数；上游正常结束（EOF）时 err 为 nil
func Stream(w http.ResponseWriter, contentType string, body io.Reader) (int64, error) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return io.Copy(w, body)
	}
	flusher.Flush()

	var written int64
	buf := make([]byte, bufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			m, writeErr := w.Write(buf[:n])
			written += int64(m)
			if writeErr != nil {
				return written, writeErr
			}
			flusher.Flush()
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, readErr
		}
	}
}
