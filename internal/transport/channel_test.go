package transport

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/xblink/internal/bytestream"
	"github.com/srg/xblink/internal/ctr"
	"github.com/srg/xblink/internal/radio"
	"github.com/srg/xblink/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const testAddress = "00:11:22:33:AA:BB"

var (
	testKey     = mustHex("000102030405060708090a0b0c0d0e0f")
	testTXNonce = mustHex("f0f1f2f3f4f5f6f7f8f9fafb")
	testRXNonce = mustHex("e0e1e2e3e4e5e6e7e8e9eaeb")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

type ChannelSuite struct {
	suite.Suite
	helper *testutils.TestHelper
}

func TestChannelSuite(t *testing.T) {
	suite.Run(t, new(ChannelSuite))
}

func (s *ChannelSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
}

func testOptions() Options {
	return Options{
		ConnectTimeout:    time.Second,
		DisconnectTimeout: 500 * time.Millisecond,
		SubscribeTimeout:  200 * time.Millisecond,
		ServiceTimeout:    200 * time.Millisecond,
		WriteTimeout:      100 * time.Millisecond,
		WriteLongTimeout:  300 * time.Millisecond,
		AdmissionTimeout:  time.Second,
		SettleDelay:       0,
	}
}

func (s *ChannelSuite) newChannel(p *testutils.MockPeripheral) *Channel {
	return s.newChannelWith(p, testOptions())
}

func (s *ChannelSuite) newChannelWith(p *testutils.MockPeripheral, opts Options) *Channel {
	ch, err := NewWithPeer(p.Adapter, p.Peer, opts, s.helper.Logger)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = ch.Close() })
	return ch
}

func (s *ChannelSuite) openChannel(p *testutils.MockPeripheral) *Channel {
	ch := s.newChannel(p)
	s.Require().NoError(ch.Open(context.Background()))
	s.Require().Equal(StateOpen, ch.State())
	return ch
}

// replaceWrites drops the builder's TX expectations so a test can install its own.
func replaceWrites(p *testutils.MockPeripheral) {
	p.TX.ExpectedCalls = nil
}

func (s *ChannelSuite) TestNew_RejectsMalformedAddress() {
	adapter := &testutils.MockAdapter{}

	_, err := New(adapter, "not-an-address", testOptions(), nil)
	s.ErrorIs(err, radio.ErrInvalidAddressFormat)

	_, err = New(adapter, "00112233AAB", testOptions(), nil)
	s.ErrorIs(err, radio.ErrInvalidAddressFormat)

	adapter.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ChannelSuite) TestNew_AcceptsAllAddressForms() {
	adapter := &testutils.MockAdapter{}
	for _, addr := range []string{"00112233AABB", "00:11:22:33:AA:BB", "01234567-0123-0123-0123-0123456789AB"} {
		ch, err := New(adapter, addr, testOptions(), nil)
		s.Require().NoError(err, addr)
		s.Equal(StateClosed, ch.State())
		s.Equal("bluetooth", ch.ConnectionType())
	}
}

func (s *ChannelSuite) TestNew_RejectsBadOptions() {
	opts := testOptions()
	opts.RequestMTU = 1000
	_, err := New(&testutils.MockAdapter{}, testAddress, opts, nil)
	s.Error(err)
}

func (s *ChannelSuite) TestOpen_Success() {
	p := testutils.NewMockPeripheralBuilder(testAddress).WithMTU(185).Build()
	ch := s.openChannel(p)

	s.True(ch.IsOpen())
	s.Equal(185, ch.MTU())
	s.False(ch.EncryptionEnabled())
	s.Contains(ch.String(), "00:11:22:33:AA:BB")

	p.Link.AssertCalled(s.T(), "RequestMTU", mock.Anything, radio.MaxMTU)
	p.RX.AssertCalled(s.T(), "Subscribe", mock.Anything)
}

func (s *ChannelSuite) TestOpen_Idempotent() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)

	s.NoError(ch.Open(context.Background()))
	p.Adapter.AssertNumberOfCalls(s.T(), "Connect", 1)
}

func (s *ChannelSuite) TestOpen_PassesLowLatencyPreference() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	opts := testOptions()
	opts.LowLatency = true
	ch := s.newChannelWith(p, opts)

	s.Require().NoError(ch.Open(context.Background()))
	p.Adapter.AssertCalled(s.T(), "Connect", mock.Anything, p.Peer, radio.ConnectParams{LowLatency: true})
	p.Link.AssertCalled(s.T(), "RequestLowLatency", mock.Anything)
}

func (s *ChannelSuite) TestOpen_MTUFallbacks() {
	tests := []struct {
		name     string
		builder  *testutils.MockPeripheralBuilder
		expected int
	}{
		{
			name:     "request fails, current MTU kept",
			builder:  testutils.NewMockPeripheralBuilder(testAddress).WithMTUError(64, errors.New("not supported")),
			expected: 64,
		},
		{
			name:     "below floor is clamped",
			builder:  testutils.NewMockPeripheralBuilder(testAddress).WithMTU(10),
			expected: radio.DefaultMTU,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			ch := s.openChannel(tt.builder.Build())
			s.Equal(tt.expected, ch.MTU())
		})
	}
}

func (s *ChannelSuite) TestOpen_WithoutNotifySkipsSubscribe() {
	p := testutils.NewMockPeripheralBuilder(testAddress).WithoutNotify().Build()
	ch := s.openChannel(p)

	p.RX.AssertNotCalled(s.T(), "Subscribe", mock.Anything)
	s.NoError(ch.Close())
	p.RX.AssertNotCalled(s.T(), "Unsubscribe", mock.Anything)
}

func (s *ChannelSuite) TestOpen_Failures() {
	tests := []struct {
		name           string
		builder        *testutils.MockPeripheralBuilder
		expected       error
		wantDisconnect bool
		wantUnsub      bool
	}{
		{
			name:     "connect error",
			builder:  testutils.NewMockPeripheralBuilder(testAddress).WithConnectError(errors.New("gatt error 133")),
			expected: radio.ErrConnectFailed,
		},
		{
			name:     "connect timeout",
			builder:  testutils.NewMockPeripheralBuilder(testAddress).WithConnectHang(),
			expected: radio.ErrConnectTimeout,
		},
		{
			name:           "service not found",
			builder:        testutils.NewMockPeripheralBuilder(testAddress).WithoutService(),
			expected:       radio.ErrServiceNotFound,
			wantDisconnect: true,
		},
		{
			name:           "characteristic missing",
			builder:        testutils.NewMockPeripheralBuilder(testAddress).WithoutRX(),
			expected:       radio.ErrCharacteristicsNotFound,
			wantDisconnect: true,
		},
		{
			name:           "subscribe fails",
			builder:        testutils.NewMockPeripheralBuilder(testAddress).WithSubscribeError(context.DeadlineExceeded),
			expected:       radio.ErrSubscribeFailed,
			wantDisconnect: true,
		},
		{
			name:           "cleanup failure does not mask cause",
			builder:        testutils.NewMockPeripheralBuilder(testAddress).WithoutService().WithDisconnectError(errors.New("busy")),
			expected:       radio.ErrServiceNotFound,
			wantDisconnect: true,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			p := tt.builder.Build()
			opts := testOptions()
			opts.ConnectTimeout = 100 * time.Millisecond
			ch := s.newChannelWith(p, opts)

			err := ch.Open(context.Background())
			s.Require().Error(err)
			s.ErrorIs(err, tt.expected)
			s.Equal(StateClosed, ch.State())
			s.False(ch.IsOpen())

			if tt.wantDisconnect {
				p.Link.AssertCalled(s.T(), "Disconnect", mock.Anything)
			} else {
				p.Link.AssertNotCalled(s.T(), "Disconnect", mock.Anything)
			}
			p.RX.AssertNotCalled(s.T(), "Unsubscribe", mock.Anything)

			_, err = ch.Write([]byte("x"))
			s.ErrorIs(err, radio.ErrNotOpen)
		})
	}
}

func (s *ChannelSuite) TestOpen_LinkDroppedDuringSubscribe() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	p.RX.ExpectedCalls = nil
	p.RX.On("Subscribe", mock.Anything).Run(func(mock.Arguments) {
		p.Link.Drop()
	}).Return(nil)
	p.RX.On("Unsubscribe", mock.Anything).Return(nil).Maybe()
	ch := s.newChannel(p)

	err := ch.Open(context.Background())
	s.ErrorIs(err, radio.ErrConnectFailed)
	s.Equal(StateClosed, ch.State())
}

func (s *ChannelSuite) TestWrite_NeverOpened() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.newChannel(p)

	n, err := ch.Write([]byte("hello"))
	s.Zero(n)
	s.ErrorIs(err, radio.ErrNotOpen)
	s.Equal(radio.KindNotOpen, radio.KindOf(err))

	p.Adapter.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything, mock.Anything)
	p.TX.AssertNotCalled(s.T(), "Write", mock.Anything, mock.Anything)
}

func (s *ChannelSuite) TestWrite_AfterClose() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)
	s.Require().NoError(ch.Close())

	_, err := ch.Write([]byte("hello"))
	s.ErrorIs(err, radio.ErrNotOpen)
	p.TX.AssertNotCalled(s.T(), "Write", mock.Anything, mock.Anything)
}

func (s *ChannelSuite) TestWrite_SlicesToMTU() {
	p := testutils.NewMockPeripheralBuilder(testAddress).WithMTU(23).Build()
	ch := s.openChannel(p)

	data := bytes.Repeat([]byte("0123456789"), 5) // 50 bytes
	n, err := ch.Write(data)
	s.Require().NoError(err)
	s.Equal(len(data), n)

	writes := p.TX.Writes()
	s.Require().Len(writes, 3)
	s.Len(writes[0], 20)
	s.Len(writes[1], 20)
	s.Len(writes[2], 10)
	s.Equal(data, bytes.Join(writes, nil))
}

func (s *ChannelSuite) TestWrite_EmptyIsNoop() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)

	n, err := ch.Write(nil)
	s.NoError(err)
	s.Zero(n)
	p.TX.AssertNotCalled(s.T(), "Write", mock.Anything, mock.Anything)
}

func (s *ChannelSuite) TestWrite_Encrypted() {
	p := testutils.NewMockPeripheralBuilder(testAddress).WithMTU(23).Build()
	ch := s.openChannel(p)
	s.Require().NoError(ch.SetEncryptionKeys(testKey, testTXNonce, testRXNonce))
	s.True(ch.EncryptionEnabled())

	plain := []byte("the quick brown fox jumps over the lazy dog")
	orig := append([]byte(nil), plain...)
	_, err := ch.Write(plain)
	s.Require().NoError(err)
	s.Equal(orig, plain, "caller buffer must not be modified")

	peer, err := ctr.NewState(testKey, testTXNonce)
	s.Require().NoError(err)
	wire := bytes.Join(p.TX.Writes(), nil)
	s.NotEqual(plain, wire)
	peer.XORKeyStream(wire, wire)
	s.Equal(plain, wire)
}

func (s *ChannelSuite) TestWrite_FailureRollsBackKeystream() {
	p := testutils.NewMockPeripheralBuilder(testAddress).WithMTU(23).Build()
	ch := s.openChannel(p)
	s.Require().NoError(ch.SetEncryptionKeys(testKey, testTXNonce, testRXNonce))

	first := []byte("first message, delivered")
	_, err := ch.Write(first)
	s.Require().NoError(err)
	delivered := len(p.TX.Writes())

	// second slice of the next message is rejected
	replaceWrites(p)
	p.TX.On("Write", mock.Anything, mock.Anything).Return(nil).Once()
	p.TX.On("Write", mock.Anything, mock.Anything).Return(errors.New("gatt write rejected")).Once()
	p.TX.On("Write", mock.Anything, mock.Anything).Return(nil)

	msg := []byte("second message, spans more than one slice")
	n, err := ch.Write(msg)
	s.Zero(n)
	s.ErrorIs(err, radio.ErrWriteFailed)

	// retry of the whole message must reuse the same keystream
	_, err = ch.Write(msg)
	s.Require().NoError(err)

	writes := p.TX.Writes()
	partial := writes[delivered]
	retried := bytes.Join(writes[delivered+1:], nil)
	s.Equal(partial, retried[:len(partial)], "retry re-encrypts at the same position")

	peer, err := ctr.NewState(testKey, testTXNonce)
	s.Require().NoError(err)
	out := append([]byte(nil), first...)
	peer.XORKeyStream(out, out)
	out = append([]byte(nil), retried...)
	peer.XORKeyStream(out, out)
	s.Equal(msg, out, "peer decrypts the retried message")
}

func (s *ChannelSuite) TestWrite_SliceTimeout() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	replaceWrites(p)
	p.TX.On("Write", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.DeadlineExceeded)
	ch := s.openChannel(p)

	start := time.Now()
	_, err := ch.Write([]byte("slow"))
	s.ErrorIs(err, radio.ErrWriteTimeout)
	s.Less(time.Since(start), time.Second)
	s.True(ch.IsOpen(), "a failed write does not close the channel")
}

func (s *ChannelSuite) TestWrite_ConcurrentWritersDoNotInterleave() {
	p := testutils.NewMockPeripheralBuilder(testAddress).WithMTU(23).Build()
	ch := s.openChannel(p)

	var wg sync.WaitGroup
	for _, b := range []byte{'a', 'b', 'c'} {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			_, err := ch.Write(bytes.Repeat([]byte{b}, 100))
			s.NoError(err)
		}(b)
	}
	wg.Wait()

	writes := p.TX.Writes()
	s.Require().Len(writes, 15)
	for i := 0; i < 15; i += 5 {
		want := writes[i][0]
		for _, w := range writes[i : i+5] {
			s.Equal(bytes.Repeat([]byte{want}, 20), w)
		}
	}
}

func (s *ChannelSuite) TestClose_NeverOpenedIsNoop() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.newChannel(p)

	s.NoError(ch.Close())
	s.NoError(ch.Close())
	s.Equal(StateClosed, ch.State())
	p.Link.AssertNotCalled(s.T(), "Disconnect", mock.Anything)
}

func (s *ChannelSuite) TestClose_Idempotent() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)

	s.NoError(ch.Close())
	s.NoError(ch.Close())
	s.Equal(StateClosed, ch.State())

	p.RX.AssertNumberOfCalls(s.T(), "Unsubscribe", 1)
	p.Link.AssertNumberOfCalls(s.T(), "Disconnect", 1)
}

func (s *ChannelSuite) TestClose_DisconnectFailureStillCloses() {
	p := testutils.NewMockPeripheralBuilder(testAddress).WithDisconnectError(errors.New("stack busy")).Build()
	ch := s.openChannel(p)

	err := ch.Close()
	s.ErrorIs(err, radio.ErrDisconnectFailed)
	s.Equal(StateClosed, ch.State())
	s.NoError(ch.Close())
}

func (s *ChannelSuite) TestClose_UnsubscribeFailureIsNotFatal() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	p.RX.ExpectedCalls = nil
	p.RX.On("Subscribe", mock.Anything).Return(nil)
	p.RX.On("Unsubscribe", mock.Anything).Return(errors.New("unsubscribe timeout"))
	ch := s.openChannel(p)

	s.NoError(ch.Close())
	p.Link.AssertCalled(s.T(), "Disconnect", mock.Anything)
}

func (s *ChannelSuite) TestClose_WaitsForInflightWrite() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	release := make(chan struct{})
	started := make(chan struct{})
	replaceWrites(p)
	p.TX.On("Write", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()

	opts := testOptions()
	opts.WriteTimeout = time.Second
	opts.WriteLongTimeout = time.Second
	ch := s.newChannelWith(p, opts)
	s.Require().NoError(ch.Open(context.Background()))

	writeDone := make(chan error, 1)
	go func() {
		_, err := ch.Write([]byte("held"))
		writeDone <- err
	}()
	<-started

	closeDone := make(chan error, 1)
	go func() { closeDone <- ch.Close() }()

	select {
	case <-closeDone:
		s.Fail("Close returned while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	p.Link.AssertNotCalled(s.T(), "Disconnect", mock.Anything)

	close(release)
	s.NoError(<-writeDone)
	s.NoError(<-closeDone)
	s.Equal(StateClosed, ch.State())
}

func (s *ChannelSuite) TestClose_OutwaitsAdmissionTimeoutForLongWrite() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	release := make(chan struct{})
	started := make(chan struct{})
	replaceWrites(p)
	p.TX.On("Write", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()

	opts := testOptions()
	opts.AdmissionTimeout = 50 * time.Millisecond
	opts.WriteTimeout = 2 * time.Second
	opts.WriteLongTimeout = 2 * time.Second
	ch := s.newChannelWith(p, opts)
	s.Require().NoError(ch.Open(context.Background()))

	writeDone := make(chan error, 1)
	go func() {
		_, err := ch.Write([]byte("slow"))
		writeDone <- err
	}()
	<-started

	closeDone := make(chan error, 1)
	go func() { closeDone <- ch.Close() }()

	// well past the admission timeout, still inside the write budget
	select {
	case <-closeDone:
		s.Fail("Close tore the channel down under an in-flight write")
	case <-time.After(200 * time.Millisecond):
	}
	p.Link.AssertNotCalled(s.T(), "Disconnect", mock.Anything)

	close(release)
	s.NoError(<-writeDone)
	s.NoError(<-closeDone)
	s.Equal([][]byte{[]byte("slow")}, p.TX.Writes())
}

func (s *ChannelSuite) TestRead_AssemblesNotifications() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)

	var notified atomic.Int64
	ch.OnData(func(n int) { notified.Add(int64(n)) })

	for _, frag := range []string{"AB", "CD", "EF"} {
		s.Require().True(p.RX.Push([]byte(frag)))
	}

	small := make([]byte, 4)
	n, err := ch.Read(small)
	s.Require().NoError(err)
	s.Equal("ABCD", string(small[:n]))

	n, err = ch.Read(small)
	s.Require().NoError(err)
	s.Equal("EF", string(small[:n]))

	s.helper.Eventually(func() bool { return notified.Load() == 6 }, time.Second, "data events delivered")
}

func (s *ChannelSuite) TestRead_DecryptsNotifications() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)
	s.Require().NoError(ch.SetEncryptionKeys(testKey, testTXNonce, testRXNonce))

	// the peripheral encrypts with the host's receive nonce
	peer, err := ctr.NewState(testKey, testRXNonce)
	s.Require().NoError(err)
	for _, frag := range []string{"hello, ", "encrypted ", "world"} {
		ct := []byte(frag)
		peer.XORKeyStream(ct, ct)
		p.RX.Push(ct)
	}

	buf := make([]byte, 64)
	n, err := ch.Read(buf)
	s.Require().NoError(err)
	s.Equal("hello, encrypted world", string(buf[:n]))
}

func (s *ChannelSuite) TestRead_Timeout() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)

	_, err := ch.ReadTimeout(make([]byte, 8), 20*time.Millisecond)
	s.ErrorIs(err, bytestream.ErrTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ch.ReadContext(ctx, make([]byte, 8))
	s.ErrorIs(err, bytestream.ErrTimeout)
}

func (s *ChannelSuite) TestRead_NeverOpenedReturnsEOF() {
	ch := s.newChannel(testutils.NewMockPeripheralBuilder(testAddress).Build())
	n, err := ch.Read(make([]byte, 8))
	s.Zero(n)
	s.ErrorIs(err, io.EOF)
}

func (s *ChannelSuite) TestRead_DrainsThenEOFAfterClose() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)
	p.RX.Push([]byte("last words"))
	s.Require().NoError(ch.Close())

	s.Equal(10, ch.Buffered())
	buf := make([]byte, 32)
	n, err := ch.Read(buf)
	s.Require().NoError(err)
	s.Equal("last words", string(buf[:n]))

	_, err = ch.Read(buf)
	s.ErrorIs(err, io.EOF)
	s.False(p.RX.Push([]byte("late")), "handler removed on close")
}

func (s *ChannelSuite) TestPeerDisconnect() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)

	lost := make(chan error, 1)
	ch.OnConnectionLost(func(err error) { lost <- err })

	readDone := make(chan error, 1)
	go func() {
		_, err := ch.Read(make([]byte, 8))
		readDone <- err
	}()

	p.Link.Drop()

	select {
	case err := <-lost:
		s.ErrorIs(err, radio.ErrLinkLost)
	case <-time.After(time.Second):
		s.FailNow("connection lost event not delivered")
	}
	s.Equal(StateFailed, ch.State())
	s.ErrorIs(<-readDone, io.EOF)

	_, err := ch.Write([]byte("x"))
	s.ErrorIs(err, radio.ErrNotOpen)

	err = ch.Open(context.Background())
	s.ErrorIs(err, radio.ErrConnectFailed, "failed channel must be closed before reopening")

	s.NoError(ch.Close())
	s.Equal(StateClosed, ch.State())
	p.Link.AssertNotCalled(s.T(), "Disconnect", mock.Anything)
}

func (s *ChannelSuite) TestCallbackMayCloseChannel() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)

	closed := make(chan error, 1)
	ch.OnConnectionLost(func(error) { closed <- ch.Close() })
	p.Link.Drop()

	select {
	case err := <-closed:
		s.NoError(err)
	case <-time.After(time.Second):
		s.FailNow("callback did not run")
	}
	s.Equal(StateClosed, ch.State())
}

func (s *ChannelSuite) TestSetEncryptionKeys_Invalid() {
	ch := s.openChannel(testutils.NewMockPeripheralBuilder(testAddress).Build())
	s.Error(ch.SetEncryptionKeys([]byte("short"), testTXNonce, testRXNonce))
	s.False(ch.EncryptionEnabled())
}

func (s *ChannelSuite) TestReopenResetsEncryption() {
	p := testutils.NewMockPeripheralBuilder(testAddress).Build()
	ch := s.openChannel(p)
	s.Require().NoError(ch.SetEncryptionKeys(testKey, testTXNonce, testRXNonce))
	s.Require().NoError(ch.Close())
	s.False(ch.EncryptionEnabled())
}
