package conversion

import (
	"bufio"
	"bytes"
	"io"
)

// SSE扫描最大单行长度，多模态分片可能很大
const maxSSELineSize = 10 * 1024 * 1024

// SSEScanner 逐行解析上游SSE流，只返回data载荷。
// 不缓冲整个响应，保持到达顺序
type SSEScanner struct {
	scanner *bufio.Scanner
}

func NewSSEScanner(r io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineSize)
	return &SSEScanner{scanner: scanner}
}

// Next 返回下一条data载荷。流结束或出错时ok为false，
// 错误通过Err获取
func (s *SSEScanner) Next() (data []byte, done bool, ok bool) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// 注释行为心跳，跳过
		if line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		payload := bytes.TrimSpace(line[6:])
		if len(payload) == 0 {
			continue
		}
		if bytes.Equal(payload, []byte("[DONE]")) {
			return nil, true, true
		}
		// scanner内部缓冲会被下次Scan覆盖，必须拷贝
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, false, true
	}
	return nil, false, false
}

func (s *SSEScanner) Err() error {
	return s.scanner.Err()
}
