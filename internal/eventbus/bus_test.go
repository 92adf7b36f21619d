package eventbus_test

import (
	"encoding/json"
	"testing"

	"github.com/221fa04357-prog/connect-pro/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversInRegistrationOrder(t *testing.T) {
	bus := eventbus.New()
	var got []string

	bus.Subscribe("e", func(payload any, meta eventbus.Meta) { got = append(got, "first:"+payload.(string)) })
	bus.Subscribe("e", func(payload any, meta eventbus.Meta) { got = append(got, "second:"+meta.Source) })

	bus.Publish("e", "hello", eventbus.Meta{Source: "tab-a"})

	assert.Equal(t, []string{"first:hello", "second:tab-a"}, got)
}

func TestBus_UnsubscribedListenerReceivesNothing(t *testing.T) {
	bus := eventbus.New()
	calls := 0
	unsubscribe := bus.Subscribe("e", func(any, eventbus.Meta) { calls++ })

	bus.Publish("e", 1, eventbus.Meta{})
	unsubscribe()
	bus.Publish("e", 2, eventbus.Meta{})
	unsubscribe() // 重复取消无副作用

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.ListenerCount("e"))
}

func TestBus_UnsubscribeRemovesOnlyThatRegistration(t *testing.T) {
	bus := eventbus.New()
	var a, b int
	listener := func(any, eventbus.Meta) { a++ }
	unsubFirst := bus.Subscribe("e", listener)
	bus.Subscribe("e", listener) // 同一个函数注册两次
	bus.Subscribe("e", func(any, eventbus.Meta) { b++ })

	unsubFirst()
	bus.Publish("e", nil, eventbus.Meta{})

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 2, bus.ListenerCount("e"))
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := eventbus.New()
	assert.NotPanics(t, func() {
		bus.Publish("nobody-listens", map[string]int{"x": 1}, eventbus.Meta{})
	})
}

func TestBus_PanickingListenerDoesNotStopDelivery(t *testing.T) {
	bus := eventbus.New()
	delivered := false
	bus.Subscribe("e", func(any, eventbus.Meta) { panic("boom") })
	bus.Subscribe("e", func(any, eventbus.Meta) { delivered = true })

	require.NotPanics(t, func() { bus.Publish("e", nil, eventbus.Meta{}) })
	assert.True(t, delivered)
}

func TestBus_SubscribeInsideListener(t *testing.T) {
	bus := eventbus.New()
	late := 0
	bus.Subscribe("e", func(any, eventbus.Meta) {
		bus.Subscribe("e", func(any, eventbus.Meta) { late++ })
	})

	bus.Publish("e", nil, eventbus.Meta{})
	assert.Equal(t, 0, late, "新注册的监听者不应收到当前这次发布")

	bus.Publish("e", nil, eventbus.Meta{})
	assert.Equal(t, 1, late)
}

func TestNewInstanceID(t *testing.T) {
	a := eventbus.NewInstanceID()
	b := eventbus.NewInstanceID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}

type sample struct {
	Name string `json:"name"`
}

func TestDecode(t *testing.T) {
	v, err := eventbus.Decode[sample](sample{Name: "typed"})
	require.NoError(t, err)
	assert.Equal(t, "typed", v.Name)

	v, err = eventbus.Decode[sample](&sample{Name: "pointer"})
	require.NoError(t, err)
	assert.Equal(t, "pointer", v.Name)

	v, err = eventbus.Decode[sample](json.RawMessage(`{"name":"relayed"}`))
	require.NoError(t, err)
	assert.Equal(t, "relayed", v.Name)

	_, err = eventbus.Decode[sample](42)
	assert.Error(t, err)
}
