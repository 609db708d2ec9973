package ingest

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestBusPublishFansOutToEverySubscriber(t *testing.T) {
	b := NewBus()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}
	b.Publish(pkt)

	require.Same(t, pkt, <-sub1.Packets)
	require.Same(t, pkt, <-sub2.Packets)
}

func TestBusSubscribeOnlySeesPacketsPublishedAfterJoining(t *testing.T) {
	b := NewBus()

	b.Publish(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}})

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	pkt2 := &rtp.Packet{Header: rtp.Header{SequenceNumber: 2}}
	b.Publish(pkt2)

	require.Same(t, pkt2, <-sub.Packets)
	select {
	case extra := <-sub.Packets:
		t.Fatalf("subscriber saw an unexpected packet: %+v", extra)
	default:
	}
}

func TestBusPublishDropsRatherThanBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < busCapacity+10; i++ {
		b.Publish(&rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}})
	}

	require.Len(t, sub.Packets, busCapacity, "a saturated subscriber channel must stay at capacity, never block Publish")
}

func TestBusUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Packets
	require.False(t, ok, "Packets must be closed after Unsubscribe")

	require.Equal(t, 0, b.SubscriberCount())
}

func TestBusSubscriberCountTracksLiveSubscriptions(t *testing.T) {
	b := NewBus()
	require.Equal(t, 0, b.SubscriberCount())

	sub1 := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	sub2 := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	sub1.Unsubscribe()
	require.Equal(t, 1, b.SubscriberCount())

	sub2.Unsubscribe()
	require.Equal(t, 0, b.SubscriberCount())
}
