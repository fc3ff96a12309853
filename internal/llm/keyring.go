package llm

import "sync"

// keyring rotates through API keys when the provider reports a rate limit.
type keyring struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

func newKeyring(keys []string) *keyring {
	return &keyring{keys: cleanKeys(keys)}
}

func (k *keyring) current() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.keys) == 0 {
		return ""
	}
	return k.keys[k.idx]
}

// rotate advances past failed if it is still the current key. Concurrent
// callers that saw the same rate limit rotate only once.
func (k *keyring) rotate(failed string) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.keys) == 0 {
		return ""
	}
	if k.keys[k.idx] == failed {
		k.idx = (k.idx + 1) % len(k.keys)
	}
	return k.keys[k.idx]
}

func (k *keyring) size() int {
	return len(k.keys)
}
