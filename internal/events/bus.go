// Package events provides the engine's internal event bus
package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// EventBus manages event distribution using pub/sub pattern
type EventBus struct {
	subscribers map[string][]*Subscription
	strategies  map[string]Strategy
	metrics     *BusMetrics
	config      *BusConfig
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
	running     bool
	wg          sync.WaitGroup
}

// Subscription represents one subscriber's view of the bus. Delivery
// timing per event name is governed by the bus's Strategy table, not
// by the subscription itself — a subscription just receives whatever
// the strategy decides to put on Channel.
type Subscription struct {
	ID           string
	SubscriberID string
	Filter       *EventFilter
	Channel      chan *Event
	CreatedAt    time.Time
	LastEvent    *time.Time
	Statistics   *SubscriptionStats
	mu           sync.Mutex
	delivery     map[string]*deliveryState // keyed by event name
}

// SubscriptionStats tracks per-subscription delivery counters.
type SubscriptionStats struct {
	EventsReceived int64
	EventsDropped  int64
	LastEventTime  *time.Time
	AverageLatency time.Duration
}

// StrategyKind selects how the bus paces delivery of one event name.
type StrategyKind string

const (
	// Immediate delivers every matching event as soon as it is published.
	Immediate StrategyKind = "immediate"
	// Throttle delivers at most one event per Window, dropping any
	// further occurrences of the same name until the window elapses.
	Throttle StrategyKind = "throttle"
	// Debounce delays delivery until Window has passed with no further
	// occurrence of the same name, then delivers the latest one seen.
	Debounce StrategyKind = "debounce"
	// Buffer accumulates occurrences of the same name and delivers them
	// together, as a single Event whose Payload is []*Event, once
	// Capacity is reached or, for a partial batch, once Window elapses
	// since the oldest buffered occurrence — "coalesce into batches
	// flushed on capacity or timer."
	Buffer StrategyKind = "buffer"
)

// Strategy is one row of the bus's per-event-name delivery table.
type Strategy struct {
	Kind     StrategyKind
	Window   time.Duration // Throttle, Debounce, Buffer
	Capacity int           // Buffer
}

// deliveryState is the running state a Throttle/Debounce/Buffer
// strategy needs per (subscription, event name) pair.
type deliveryState struct {
	lastSent time.Time
	timer    *time.Timer
	pending  *Event
	buffered []*Event
}

// BusConfig configures the event bus
type BusConfig struct {
	ChannelBufferSize int           `json:"channel_buffer_size"`
	MaxSubscribers    int           `json:"max_subscribers"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
	MetricsInterval   time.Duration `json:"metrics_interval"`
	MaxEventSize      int           `json:"max_event_size"`
}

// BusMetrics tracks event bus performance
type BusMetrics struct {
	EventsPublished     int64         `json:"events_published"`
	EventsDelivered     int64         `json:"events_delivered"`
	EventsDropped       int64         `json:"events_dropped"`
	ActiveSubscriptions int           `json:"active_subscriptions"`
	AverageLatency      time.Duration `json:"average_latency"`
	ThroughputPerSecond float64       `json:"throughput_per_second"`
	LastEventTime       time.Time     `json:"last_event_time"`
	mu                  sync.RWMutex
}

// DefaultBusConfig returns default event bus configuration
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		ChannelBufferSize: 256,
		MaxSubscribers:    64,
		CleanupInterval:   time.Minute,
		MetricsInterval:   30 * time.Second,
		MaxEventSize:      1024 * 1024,
	}
}

// DefaultStrategies returns the per-event-name delivery table spec.md
// §4.2 requires: tag-cloud updates are debounced so rapid tagging
// doesn't flood the host, vectorization progress is throttled to one
// update a second, everything else delivers immediately.
func DefaultStrategies() map[string]Strategy {
	return map[string]Strategy{
		TagsUpdated:         {Kind: Debounce, Window: 2 * time.Second},
		MultivectorProgress: {Kind: Throttle, Window: time.Second},
		FileTaggingProgress: {Kind: Throttle, Window: time.Second},
		RAGProgress:         {Kind: Throttle, Window: time.Second},
	}
}

// NewEventBus creates a new event bus
func NewEventBus(config *BusConfig) *EventBus {
	if config == nil {
		config = DefaultBusConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EventBus{
		subscribers: make(map[string][]*Subscription),
		strategies:  DefaultStrategies(),
		metrics:     &BusMetrics{},
		config:      config,
		ctx:         ctx,
		cancel:      cancel,
		running:     false,
	}
}

// SetStrategy overrides the delivery strategy for one event name.
func (eb *EventBus) SetStrategy(eventName string, s Strategy) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.strategies[eventName] = s
}

func (eb *EventBus) strategyFor(eventName string) Strategy {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if s, ok := eb.strategies[eventName]; ok {
		return s
	}
	return Strategy{Kind: Immediate}
}

// Start starts the event bus
func (eb *EventBus) Start() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.running {
		return errors.New("event bus already running")
	}

	eb.wg.Add(1)
	go eb.cleanupRoutine()

	eb.running = true
	log.Printf("event bus started: buffer=%d max_subscribers=%d", eb.config.ChannelBufferSize, eb.config.MaxSubscribers)

	return nil
}

// Stop stops the event bus gracefully
func (eb *EventBus) Stop() error {
	eb.mu.Lock()
	if !eb.running {
		eb.mu.Unlock()
		return errors.New("event bus not running")
	}
	eb.running = false
	eb.mu.Unlock()

	eb.cancel()

	eb.mu.Lock()
	for _, subscriptions := range eb.subscribers {
		for _, sub := range subscriptions {
			sub.stopTimers()
			close(sub.Channel)
		}
	}
	eb.subscribers = make(map[string][]*Subscription)
	eb.mu.Unlock()

	eb.wg.Wait()
	return nil
}

// IsRunning returns whether the event bus is running
func (eb *EventBus) IsRunning() bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.running
}

// Subscribe creates a new event subscription.
func (eb *EventBus) Subscribe(subscriberID string, filter *EventFilter) (*Subscription, error) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if !eb.running {
		return nil, errors.New("event bus not running")
	}

	total := 0
	for _, subs := range eb.subscribers {
		total += len(subs)
	}
	if total >= eb.config.MaxSubscribers {
		return nil, fmt.Errorf("maximum subscribers reached: %d", eb.config.MaxSubscribers)
	}

	sub := &Subscription{
		ID:           generateSubscriptionID(),
		SubscriberID: subscriberID,
		Filter:       filter,
		Channel:      make(chan *Event, eb.config.ChannelBufferSize),
		CreatedAt:    time.Now(),
		Statistics:   &SubscriptionStats{},
		delivery:     make(map[string]*deliveryState),
	}

	eb.subscribers[subscriberID] = append(eb.subscribers[subscriberID], sub)
	return sub, nil
}

// Unsubscribe removes a subscription
func (eb *EventBus) Unsubscribe(subscriberID, subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs, exists := eb.subscribers[subscriberID]
	if !exists {
		return fmt.Errorf("subscriber not found: %s", subscriberID)
	}

	for i, sub := range subs {
		if sub.ID != subscriptionID {
			continue
		}
		sub.stopTimers()
		close(sub.Channel)
		eb.subscribers[subscriberID] = append(subs[:i], subs[i+1:]...)
		if len(eb.subscribers[subscriberID]) == 0 {
			delete(eb.subscribers, subscriberID)
		}
		return nil
	}
	return fmt.Errorf("subscription not found: %s", subscriptionID)
}

// UnsubscribeAll removes all subscriptions for a subscriber
func (eb *EventBus) UnsubscribeAll(subscriberID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs, exists := eb.subscribers[subscriberID]
	if !exists {
		return nil
	}
	for _, sub := range subs {
		sub.stopTimers()
		close(sub.Channel)
	}
	delete(eb.subscribers, subscriberID)
	return nil
}

// Publish distributes event to every subscriber whose filter matches,
// pacing delivery per event name according to the bus's Strategy table.
func (eb *EventBus) Publish(event *Event) error {
	if !eb.IsRunning() {
		return errors.New("event bus not running")
	}
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if size := eb.estimateEventSize(event); size > eb.config.MaxEventSize {
		return fmt.Errorf("event too large: %d bytes (max: %d)", size, eb.config.MaxEventSize)
	}

	strategy := eb.strategyFor(event.Name)

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, subs := range eb.subscribers {
		for _, sub := range subs {
			if !sub.Filter.Matches(event) {
				continue
			}
			if eb.dispatch(sub, event, strategy) {
				delivered++
			} else {
				dropped++
			}
		}
	}

	eb.updateMetrics(func(m *BusMetrics) {
		m.EventsPublished++
		m.EventsDelivered += int64(delivered)
		m.EventsDropped += int64(dropped)
		m.LastEventTime = time.Now()
	})
	return nil
}

// dispatch applies strategy to one (subscription, event) pair and
// reports whether the event was sent (or scheduled) rather than dropped.
func (eb *EventBus) dispatch(sub *Subscription, event *Event, strategy Strategy) bool {
	switch strategy.Kind {
	case Throttle:
		return sub.throttleSend(event, strategy.Window, eb)
	case Debounce:
		sub.debounceSend(event, strategy.Window, eb)
		return true
	case Buffer:
		return sub.bufferSend(event, strategy.Capacity, strategy.Window, eb)
	default:
		return sub.send(event, eb)
	}
}

// send attempts a non-blocking delivery, dropping the event if the
// subscriber's channel is full.
func (s *Subscription) send(event *Event, eb *EventBus) bool {
	select {
	case s.Channel <- event:
		s.recordDelivery()
		return true
	default:
		s.recordDrop()
		return false
	}
}

func (s *Subscription) throttleSend(event *Event, window time.Duration, eb *EventBus) bool {
	s.mu.Lock()
	st, ok := s.delivery[event.Name]
	if !ok {
		st = &deliveryState{}
		s.delivery[event.Name] = st
	}
	now := time.Now()
	if !st.lastSent.IsZero() && now.Sub(st.lastSent) < window {
		s.mu.Unlock()
		s.recordDrop()
		return false
	}
	st.lastSent = now
	s.mu.Unlock()
	return s.send(event, eb)
}

func (s *Subscription) debounceSend(event *Event, window time.Duration, eb *EventBus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.delivery[event.Name]
	if !ok {
		st = &deliveryState{}
		s.delivery[event.Name] = st
	}
	st.pending = event
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(window, func() {
		s.mu.Lock()
		e := st.pending
		st.pending = nil
		s.mu.Unlock()
		if e != nil {
			s.send(e, eb)
		}
	})
}

// bufferSend accumulates event under event.Name, flushing the batch
// either once len(buffered) reaches capacity or, for a batch still
// below capacity, once window has elapsed since the first event in it
// — so a slow trickle of occurrences still reaches subscribers instead
// of waiting indefinitely for capacity that may never arrive.
func (s *Subscription) bufferSend(event *Event, capacity int, window time.Duration, eb *EventBus) bool {
	if capacity <= 0 {
		capacity = 1
	}
	s.mu.Lock()
	st, ok := s.delivery[event.Name]
	if !ok {
		st = &deliveryState{}
		s.delivery[event.Name] = st
	}
	st.buffered = append(st.buffered, event)

	if len(st.buffered) < capacity {
		if st.timer == nil && window > 0 {
			name := event.Name
			st.timer = time.AfterFunc(window, func() { s.flushBuffer(name, eb) })
		}
		s.mu.Unlock()
		return true
	}

	batch := st.buffered
	st.buffered = nil
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	s.mu.Unlock()

	return s.send(NewEvent(event.Name, batch), eb)
}

// flushBuffer delivers whatever is currently buffered for name once its
// timer fires, even though it never reached capacity.
func (s *Subscription) flushBuffer(name string, eb *EventBus) {
	s.mu.Lock()
	st, ok := s.delivery[name]
	if !ok || len(st.buffered) == 0 {
		if ok {
			st.timer = nil
		}
		s.mu.Unlock()
		return
	}
	batch := st.buffered
	st.buffered = nil
	st.timer = nil
	s.mu.Unlock()

	s.send(NewEvent(name, batch), eb)
}

func (s *Subscription) recordDelivery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.LastEvent = &now
	s.Statistics.EventsReceived++
	s.Statistics.LastEventTime = &now
}

func (s *Subscription) recordDrop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Statistics.EventsDropped++
}

func (s *Subscription) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.delivery {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
}

// GetSubscriptions returns all subscriptions for a subscriber
func (eb *EventBus) GetSubscriptions(subscriberID string) []*Subscription {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	subs, exists := eb.subscribers[subscriberID]
	if !exists {
		return nil
	}
	result := make([]*Subscription, len(subs))
	copy(result, subs)
	return result
}

// GetMetrics returns current bus metrics
func (eb *EventBus) GetMetrics() *BusMetrics {
	eb.metrics.mu.RLock()
	defer eb.metrics.mu.RUnlock()

	eb.mu.RLock()
	active := 0
	for _, subs := range eb.subscribers {
		active += len(subs)
	}
	eb.mu.RUnlock()

	return &BusMetrics{
		EventsPublished:     eb.metrics.EventsPublished,
		EventsDelivered:     eb.metrics.EventsDelivered,
		EventsDropped:       eb.metrics.EventsDropped,
		ActiveSubscriptions: active,
		AverageLatency:      eb.metrics.AverageLatency,
		ThroughputPerSecond: eb.metrics.ThroughputPerSecond,
		LastEventTime:       eb.metrics.LastEventTime,
	}
}

func (eb *EventBus) updateMetrics(fn func(*BusMetrics)) {
	eb.metrics.mu.Lock()
	defer eb.metrics.mu.Unlock()
	fn(eb.metrics)
}

func (eb *EventBus) estimateEventSize(event *Event) int {
	return len(event.ID) + len(event.Name) + len(event.SessionID) + len(event.FilePath) +
		len(fmt.Sprintf("%v", event.Payload))
}

func (eb *EventBus) cleanupRoutine() {
	defer eb.wg.Done()
	ticker := time.NewTicker(eb.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			eb.updateMetrics(func(m *BusMetrics) {})
		case <-eb.ctx.Done():
			return
		}
	}
}

func generateSubscriptionID() string {
	return fmt.Sprintf("sub_%d", time.Now().UnixNano())
}
