// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package dns resolves names without blocking the caller's event loop.
// A Resolver owns a loop and goroutine of its own; lookups run on a
// worker pool behind that loop, and each reply is posted back to the
// loop the request came from. The only loop contract the resolver
// relies on is Post being safe from any goroutine.
package dns

import (
	"context"
	"fmt"
	"net"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"trpc.group/trpc-go/tloop"
	"trpc.group/trpc-go/tloop/bind"
	"trpc.group/trpc-go/tloop/log"
)

// defaultParallelism bounds concurrent lookups; each one parks a
// worker goroutine for the duration of the resolution.
const defaultParallelism = 32

// Addr is one resolved address.
type Addr struct {
	IP      net.IP
	Port    int
	Network string
}

// String renders the address as "ip:port (TCP)".
func (a Addr) String() string {
	proto := "type " + a.Network
	switch a.Network {
	case "tcp":
		proto = "TCP"
	case "udp":
		proto = "UDP"
	}
	return fmt.Sprintf("%s (%s)", net.JoinHostPort(a.IP.String(), fmt.Sprint(a.Port)), proto)
}

// Callback receives the resolved addresses on the loop that called
// Resolve. A failed resolution delivers nil.
type Callback func(addrs []Addr)

// Resolver resolves host/service pairs on its own loop and worker
// pool.
type Resolver struct {
	loop *tloop.EventLoop
	pool *ants.Pool
	done chan struct{}
}

// NewResolver creates a resolver with its own running loop.
func NewResolver() (*Resolver, error) {
	loop, err := tloop.New()
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(defaultParallelism)
	if err != nil {
		loop.Close()
		return nil, errors.Wrap(err, "dns: create worker pool")
	}
	r := &Resolver{loop: loop, pool: pool, done: make(chan struct{})}
	go func() {
		r.loop.Run()
		close(r.done)
	}()
	return r, nil
}

// Loop returns the resolver's own event loop.
func (r *Resolver) Loop() *tloop.EventLoop {
	return r.loop
}

// Resolve resolves host and service and replies by invoking cb on the
// calling goroutine's loop. Host and service may be names or numeric
// values; an empty host means the wildcard address. Resolve must be
// called from a running loop.
func (r *Resolver) Resolve(ctx context.Context, host, service string, cb Callback) {
	origin := tloop.Current()
	if origin == nil {
		log.Errorf("dns: Resolve called outside a running loop")
		return
	}
	r.loop.Post(bind.New(r.resolveAndReply, ctx, host, service, cb, origin))
}

func (r *Resolver) resolveAndReply(
	ctx context.Context, host, service string, cb Callback, origin *tloop.EventLoop) {
	err := r.pool.Submit(func() {
		addrs := lookup(ctx, host, service)
		origin.Post(bind.New(cb, addrs))
	})
	if err != nil {
		log.Errorf("dns: submit lookup for %s:%s: %v", host, service, err)
		origin.Post(bind.New(cb, []Addr(nil)))
	}
}

func lookup(ctx context.Context, host, service string) []Addr {
	const network = "tcp"
	port, err := net.DefaultResolver.LookupPort(ctx, network, service)
	if err != nil {
		log.Errorf("dns: lookup port %q: %v", service, err)
		return nil
	}
	if host == "" {
		return []Addr{{IP: net.IPv4zero, Port: port, Network: network}}
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		log.Errorf("dns: lookup host %q: %v", host, err)
		return nil
	}
	addrs := make([]Addr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, Addr{IP: ip.IP, Port: port, Network: network})
	}
	return addrs
}

// Close stops the resolver: the worker pool is released, the loop is
// asked to quit, and Close returns once the loop goroutine is done.
// Lookups already handed to a worker may still deliver their reply to
// the originating loop; guard callbacks with a weak pointer when that
// matters.
func (r *Resolver) Close() error {
	r.pool.Release()
	r.loop.QuitSoon()
	<-r.done
	return r.loop.Close()
}
