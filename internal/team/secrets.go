package team

import (
	"errors"
	"math/big"
	"sync"
)

var ErrZeroModulo = errors.New("team: modulo is zero")

// Secrets holds the latest secret reported to each agent.
type Secrets struct {
	mu sync.Mutex
	m  map[string]*big.Int
}

func NewSecrets() *Secrets {
	return &Secrets{m: map[string]*big.Int{}}
}

func (s *Secrets) Update(agent string, v *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[agent] = new(big.Int).Set(v)
}

func (s *Secrets) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// SumModulo returns the sum of all secrets mod m.
func (s *Secrets) SumModulo(m *big.Int) (*big.Int, error) {
	if m == nil || m.Sign() == 0 {
		return nil, ErrZeroModulo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := new(big.Int)
	for _, v := range s.m {
		sum.Add(sum, v)
	}
	return sum.Mod(sum, m), nil
}
