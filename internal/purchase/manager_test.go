package purchase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRate struct {
	rate int64
	ok   bool
}

func (f fixedRate) RecommendedRate() (int64, bool) { return f.rate, f.ok }

func TestManagerOpenDefaultsFeeRate(t *testing.T) {
	m := NewManager(ManagerConfig{
		Wallet:   connectedWallet(),
		Dispense: okDispense(),
		Fees:     fixedRate{rate: 18, ok: true},
	})

	s := m.Open("42", testDispenser, 0)
	assert.Equal(t, int64(18), s.View().Quote.FeeRate)

	explicit := m.Open("42", testDispenser, 7)
	assert.Equal(t, int64(7), explicit.View().Quote.FeeRate)

	assert.NotEqual(t, s.ID(), explicit.ID())
	assert.Equal(t, 2, m.Len())
}

func TestManagerOpenWithoutRecommendation(t *testing.T) {
	m := NewManager(ManagerConfig{
		Wallet:   connectedWallet(),
		Dispense: okDispense(),
		Fees:     fixedRate{},
	})

	s := m.Open("42", testDispenser, 0)
	assert.Equal(t, int64(1), s.View().Quote.FeeRate)
}

func TestManagerClose(t *testing.T) {
	m := NewManager(ManagerConfig{Wallet: connectedWallet(), Dispense: okDispense()})
	s := m.Open("42", testDispenser, 5)

	got, ok := m.Get(s.ID())
	require.True(t, ok)
	require.Same(t, s, got)

	assert.True(t, m.Close(s.ID()))
	assert.False(t, m.Close(s.ID()))
	assert.True(t, s.View().Closed)
	_, ok = m.Get(s.ID())
	assert.False(t, ok)
}

func TestManagerForgetsAutoClosedSessions(t *testing.T) {
	clock := &fakeClock{}
	m := NewManager(ManagerConfig{
		Wallet:    connectedWallet(),
		Dispense:  okDispense(),
		AfterFunc: clock.AfterFunc,
	})
	s := m.Open("42", testDispenser, 5)
	_, err := s.SetAgreed(true)
	require.NoError(t, err)

	_, outcome := s.Submit(context.Background())
	require.Equal(t, OutcomeSettled, outcome)
	require.Equal(t, 1, m.Len())

	clock.fire(t)
	assert.Zero(t, m.Len())
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager(ManagerConfig{Wallet: connectedWallet(), Dispense: okDispense()})
	a := m.Open("1", testDispenser, 5)
	b := m.Open("2", testDispenser, 5)

	m.CloseAll()

	assert.Zero(t, m.Len())
	assert.True(t, a.View().Closed)
	assert.True(t, b.View().Closed)
}
