package clipboard

import "sync"

// Memory is an in-process adapter. It backs tests and headless runs, and
// doubles as the reference Adapter implementation.
type Memory struct {
	mu      sync.Mutex
	content Content
	subs    []func()
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Read() (Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content, nil
}

func (m *Memory) WriteText(text string) error {
	m.set(Content{Kind: KindText, Text: text})
	return nil
}

func (m *Memory) WriteImage(pngBytes []byte) error {
	m.set(Content{Kind: KindImage, Image: append([]byte{}, pngBytes...)})
	return nil
}

func (m *Memory) WriteFiles(paths []string) error {
	m.set(Content{Kind: KindFiles, Files: append([]string{}, paths...)})
	return nil
}

func (m *Memory) Subscribe(fn func()) (func(), error) {
	active := true
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, func() {
		m.mu.Lock()
		on := active
		m.mu.Unlock()
		if on {
			fn()
		}
	})
	return func() {
		m.mu.Lock()
		active = false
		m.mu.Unlock()
	}, nil
}

func (m *Memory) set(c Content) {
	m.mu.Lock()
	m.content = c
	subs := append([]func(){}, m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
