package resolver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/sgurl/internal/sgurl/domain"
)

func drain(ch <-chan domain.Endpoint) []domain.Endpoint {
	var out []domain.Endpoint
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestEndpointFeed_InitialValue(t *testing.T) {
	f := newEndpointFeed(domain.CloudEndpoint)
	ch, cancel := f.Subscribe()
	defer cancel()

	assert.Equal(t, []domain.Endpoint{domain.CloudEndpoint}, drain(ch))
	assert.Equal(t, domain.CloudEndpoint, f.Current())
}

func TestEndpointFeed_PublishDeduplicates(t *testing.T) {
	a := domain.Endpoint("https://a.example.com")
	b := domain.Endpoint("https://b.example.com")

	f := newEndpointFeed(domain.CloudEndpoint)
	ch, cancel := f.Subscribe()
	defer cancel()

	assert.False(t, f.Publish(domain.CloudEndpoint))
	assert.True(t, f.Publish(a))
	assert.False(t, f.Publish(a))
	assert.True(t, f.Publish(b))
	assert.True(t, f.Publish(a))

	assert.Equal(t, []domain.Endpoint{domain.CloudEndpoint, a, b, a}, drain(ch))
}

func TestEndpointFeed_LateSubscriberSeesCurrent(t *testing.T) {
	a := domain.Endpoint("https://a.example.com")
	f := newEndpointFeed(domain.CloudEndpoint)
	f.Publish(a)

	ch, cancel := f.Subscribe()
	defer cancel()
	assert.Equal(t, []domain.Endpoint{a}, drain(ch))
}

func TestEndpointFeed_CancelClosesChannel(t *testing.T) {
	f := newEndpointFeed(domain.CloudEndpoint)
	ch, cancel := f.Subscribe()
	<-ch
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.True(t, f.Publish("https://a.example.com"), "publishing without subscribers still updates current")
}

func TestEndpointFeed_Close(t *testing.T) {
	f := newEndpointFeed(domain.CloudEndpoint)
	ch1, cancel1 := f.Subscribe()
	ch2, _ := f.Subscribe()

	f.Close()
	f.Close()
	cancel1()

	assert.Equal(t, []domain.Endpoint{domain.CloudEndpoint}, drain(ch1))
	assert.Equal(t, []domain.Endpoint{domain.CloudEndpoint}, drain(ch2))
	assert.False(t, f.Publish("https://a.example.com"))

	ch3, cancel3 := f.Subscribe()
	defer cancel3()
	_, open := <-ch3
	assert.False(t, open)
}

func TestEndpointFeed_SlowSubscriberKeepsNewest(t *testing.T) {
	f := newEndpointFeed(domain.CloudEndpoint)
	ch, cancel := f.Subscribe()
	defer cancel()

	const n = subscriberBuffer * 2
	var last domain.Endpoint
	for i := 0; i < n; i++ {
		last = domain.Endpoint(fmt.Sprintf("https://e%d.example.com", i))
		require.True(t, f.Publish(last))
	}

	got := drain(ch)
	require.Len(t, got, subscriberBuffer)
	assert.Equal(t, last, got[len(got)-1])
	assert.Equal(t, last, f.Current())
}
