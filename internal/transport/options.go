package transport

import (
	"fmt"
	"time"

	"github.com/srg/xblink/internal/radio"
)

// Options bounds every blocking step of a Channel.
type Options struct {
	ConnectTimeout    time.Duration // whole Open, T_conn
	DisconnectTimeout time.Duration // whole Close, T_disc
	SubscribeTimeout  time.Duration // subscribe and unsubscribe, T_sub
	ServiceTimeout    time.Duration // service and characteristic discovery, T_svc
	WriteTimeout      time.Duration // a single slice write
	WriteLongTimeout  time.Duration // every slice of one Write together
	AdmissionTimeout  time.Duration // waiting for the admission lock
	SettleDelay       time.Duration // pause between MTU request and discovery

	RequestMTU int  // MTU asked for during negotiation
	MinMTU     int  // floor applied to whatever the platform reports
	LowLatency bool // ask for a short connection interval

	// EventBufferSize is the capacity of the event ring. When callbacks fall
	// behind, the oldest events are overwritten.
	EventBufferSize uint32
}

// DefaultOptions returns the production timeouts.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    20 * time.Second,
		DisconnectTimeout: 5 * time.Second,
		SubscribeTimeout:  3 * time.Second,
		ServiceTimeout:    3 * time.Second,
		WriteTimeout:      3 * time.Second,
		WriteLongTimeout:  6 * time.Second,
		AdmissionTimeout:  3 * time.Second,
		SettleDelay:       time.Second,
		RequestMTU:        radio.MaxMTU,
		MinMTU:            radio.DefaultMTU,
		LowLatency:        true,
		EventBufferSize:   256,
	}
}

// withDefaults fills zero fields from DefaultOptions. SettleDelay and
// LowLatency are taken as given.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = d.DisconnectTimeout
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = d.SubscribeTimeout
	}
	if o.ServiceTimeout <= 0 {
		o.ServiceTimeout = d.ServiceTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.WriteLongTimeout <= 0 {
		o.WriteLongTimeout = d.WriteLongTimeout
	}
	if o.AdmissionTimeout <= 0 {
		o.AdmissionTimeout = d.AdmissionTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.RequestMTU <= 0 {
		o.RequestMTU = d.RequestMTU
	}
	if o.MinMTU <= 0 {
		o.MinMTU = d.MinMTU
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// Validate reports option combinations a Channel cannot work with.
func (o Options) Validate() error {
	if o.MinMTU <= 3 {
		return fmt.Errorf("minimum MTU %d leaves no room for payload", o.MinMTU)
	}
	if o.RequestMTU < o.MinMTU || o.RequestMTU > radio.MaxMTU {
		return fmt.Errorf("requested MTU %d outside [%d, %d]", o.RequestMTU, o.MinMTU, radio.MaxMTU)
	}
	if o.WriteLongTimeout < o.WriteTimeout {
		return fmt.Errorf("write long timeout %s is shorter than slice timeout %s", o.WriteLongTimeout, o.WriteTimeout)
	}
	return nil
}
