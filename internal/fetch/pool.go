// Package fetch implements the download strategies and their shared
// connection management.
package fetch

import (
	"hash/fnv"
	"net/http"
	"strings"
	"time"
)

// PoolConfig sizes the shared client pool from worker concurrency and the
// total connection budget.
type PoolConfig struct {
	WorkerCount         int
	MaxTotalConnections int
}

// PoolSizing is the derived pool geometry: how many pooled clients exist,
// how many distinct hosts each tracks, and how many connections each host
// may keep alive.
type PoolSizing struct {
	Pools        int
	HostsPerPool int
	ConnsPerHost int
}

// ConnectionPool owns a fixed set of HTTP clients, deterministically
// sharded by target host so connection reuse warms up per host even across
// different work items. The shard table is read-only after construction.
type ConnectionPool struct {
	clients    []*http.Client
	transports []*http.Transport
	sizing     PoolSizing
}

const (
	minPoolSize          = 10
	maxPoolSize          = 200
	minConnsPerPool      = 5
	smallPoolBudget      = 8
	idleConnTimeout      = 90 * time.Second
	tlsHandshakeTimeout  = 10 * time.Second
	responseHeaderWindow = 30 * time.Second
)

// ComputeSizing derives the pool geometry. The pool count scales with half
// the worker concurrency, clamped to [10, 200]; each pool gets an equal
// share of the connection budget, shrinking the pool count when that share
// drops below a minimum viable value.
func ComputeSizing(cfg PoolConfig) PoolSizing {
	pools := cfg.WorkerCount / 2
	if pools < minPoolSize {
		pools = minPoolSize
	}
	if pools > maxPoolSize {
		pools = maxPoolSize
	}

	budget := cfg.MaxTotalConnections / pools
	if budget < minConnsPerPool {
		pools = cfg.MaxTotalConnections / minConnsPerPool
		if pools < 1 {
			pools = 1
		}
		budget = cfg.MaxTotalConnections / pools
	}

	var hosts, perHost int
	if budget <= smallPoolBudget {
		hosts = 2
		perHost = budget / 2
		if perHost < 2 {
			perHost = 2
		}
	} else {
		// Target 4-8 connections per host for throughput.
		perHost = budget / 6
		if perHost < 4 {
			perHost = 4
		}
		if perHost > 8 {
			perHost = 8
		}
		hosts = budget / perHost
		if hosts < 2 {
			hosts = 2
		}
	}

	return PoolSizing{Pools: pools, HostsPerPool: hosts, ConnsPerHost: perHost}
}

// NewConnectionPool builds the sharded client set. Clients carry no global
// timeout; strategies bound each attempt with a context deadline.
func NewConnectionPool(cfg PoolConfig) *ConnectionPool {
	sizing := ComputeSizing(cfg)
	clients := make([]*http.Client, sizing.Pools)
	transports := make([]*http.Transport, sizing.Pools)
	for i := range clients {
		transport := &http.Transport{
			MaxIdleConns:          sizing.HostsPerPool * sizing.ConnsPerHost,
			MaxIdleConnsPerHost:   sizing.ConnsPerHost,
			IdleConnTimeout:       idleConnTimeout,
			TLSHandshakeTimeout:   tlsHandshakeTimeout,
			ResponseHeaderTimeout: responseHeaderWindow,
		}
		transports[i] = transport
		clients[i] = &http.Client{Transport: transport}
	}
	return &ConnectionPool{
		clients:    clients,
		transports: transports,
		sizing:     sizing,
	}
}

// Sizing reports the derived geometry.
func (p *ConnectionPool) Sizing() PoolSizing {
	return p.sizing
}

// ClientFor returns the pooled client for a host. The same host always
// lands on the same client; no lock is needed for lookups.
func (p *ConnectionPool) ClientFor(host string) *http.Client {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(host)))
	return p.clients[h.Sum32()%uint32(len(p.clients))]
}

// CloseIdle drops idle connections across all shards, for shutdown.
func (p *ConnectionPool) CloseIdle() {
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}
