package udp_test

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agro-logger/internal/reading"
	"agro-logger/internal/udp"
)

func encode(values ...float32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}

	return b
}

func TestDecodePacket(t *testing.T) {
	channels := []string{"sensor1", "sensor2", "dhthumidity"}

	r, err := udp.DecodePacket(encode(25.5, float32(math.NaN()), 60), channels, time.Now())
	require.NoError(t, err)

	assert.InEpsilon(t, 25.5, r.Get("sensor1").V, 1e-6)
	assert.False(t, r.Get("sensor2").OK)
	assert.InEpsilon(t, 60.0, r.Get("dhthumidity").V, 1e-6)

	_, err = udp.DecodePacket(encode(1, 2), channels, time.Now())
	require.ErrorIs(t, err, udp.ErrPacketSize)
}

type collector struct {
	mu  sync.Mutex
	got []reading.Reading
}

func (c *collector) Emit(r reading.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.got = append(c.got, r)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.got)
}

func TestServiceRun(t *testing.T) {
	svc, err := udp.Listen("127.0.0.1:0", []string{"sensor1"})
	require.NoError(t, err)

	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var c collector

	done := make(chan error, 1)

	go func() { done <- svc.Run(ctx, &c) }()

	conn, err := net.Dial("udp4", svc.Addr().String())
	require.NoError(t, err)

	defer conn.Close()

	require.Eventually(t, func() bool {
		_, _ = conn.Write(encode(21.5))

		return c.len() > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
