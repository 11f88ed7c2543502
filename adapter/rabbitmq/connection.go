package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaybus/relaybus/internal/logging"
)

// ConnectionStateListener receives connection lifecycle notifications.
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// ConnectionManager owns one AMQP connection and reconnects it automatically
// when the broker closes it.
type ConnectionManager struct {
	url            string
	conn           *amqp.Connection
	mu             sync.RWMutex
	reconnectDelay time.Duration
	maxRetries     int
	logger         logging.Logger
	notifyClose    chan *amqp.Error
	isConnected    bool
	done           chan struct{}
	closeOnce      sync.Once

	listenersMu    sync.RWMutex
	stateListeners []ConnectionStateListener
}

type ConnectionOption func(*ConnectionManager)

func WithConnectionLogger(logger logging.Logger) ConnectionOption {
	return func(cm *ConnectionManager) { cm.logger = logger }
}

func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) { cm.reconnectDelay = delay }
}

func WithMaxConnectRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) { cm.maxRetries = retries }
}

func NewConnectionManager(url string, opts ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		reconnectDelay: 5 * time.Second,
		maxRetries:     -1,
		logger:         logging.Nop(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.Dial(cm.url)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		cm.conn = conn
		cm.isConnected = true
		cm.notifyClose = make(chan *amqp.Error)
		cm.conn.NotifyClose(cm.notifyClose)
		cm.logger.Info("connected to rabbitmq", "url", SanitizeURL(cm.url))
		cm.notifyConnected()
		go cm.handleReconnect()
		return nil

	case err := <-errChan:
		return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: err, Timestamp: time.Now(), Attempts: 1}

	case <-connCtx.Done():
		return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: ErrConnectionTimeout, Timestamp: time.Now(), Attempts: 1}
	}
}

func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.isConnected {
		return nil
	}

	cm.closeOnce.Do(func() { close(cm.done) })
	cm.isConnected = false

	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		return err
	}
	return nil
}

func (cm *ConnectionManager) handleReconnect() {
	for {
		select {
		case err := <-cm.notifyClose:
			if err != nil {
				cm.logger.Error("connection closed", "error", err)
			}
			cm.mu.Lock()
			cm.isConnected = false
			cm.conn = nil
			cm.mu.Unlock()

			cm.notifyDisconnected(err)
			cm.reconnect()

		case <-cm.done:
			return
		}
	}
}

func (cm *ConnectionManager) reconnect() {
	retries := 0
	startTime := time.Now()

	for {
		select {
		case <-cm.done:
			return
		default:
		}

		if cm.maxRetries > 0 && retries >= cm.maxRetries {
			cm.logger.Error("max reconnection attempts reached", "attempts", retries, "duration", time.Since(startTime))
			cm.notifyDisconnected(&ConnectionError{Op: "reconnect", URL: SanitizeURL(cm.url), Err: ErrMaxRetriesExceeded, Timestamp: time.Now(), Attempts: retries})
			return
		}

		cm.notifyReconnecting(retries + 1)
		delay := cm.calculateBackoff(retries)
		if retries > 0 {
			select {
			case <-time.After(delay):
			case <-cm.done:
				return
			}
		}

		conn, err := amqp.Dial(cm.url)
		if err != nil {
			cm.logger.Error("reconnection failed", "error", err, "attempt", retries+1, "nextRetryIn", delay)
			retries++
			continue
		}

		cm.mu.Lock()
		cm.conn = conn
		cm.isConnected = true
		cm.notifyClose = make(chan *amqp.Error)
		cm.conn.NotifyClose(cm.notifyClose)
		cm.mu.Unlock()

		cm.logger.Info("reconnected to rabbitmq", "attempts", retries+1, "duration", time.Since(startTime))
		cm.notifyConnected()
		return
	}
}

func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, l := range cm.stateListeners {
		go l.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, l := range cm.stateListeners {
		go l.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, l := range cm.stateListeners {
		go l.OnReconnecting(attempt)
	}
}

// calculateBackoff doubles the base delay once per attempt, caps it at five
// minutes, then adds jitter drawn from a window 25% of the delay wide
// (+/-12.5% around it).
func (cm *ConnectionManager) calculateBackoff(attempt int) time.Duration {
	base := cm.reconnectDelay
	if base == 0 {
		base = 5 * time.Second
	}
	maxDelay := 5 * time.Minute

	delay := base
	for i := 0; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(float64(delay) * 0.25)
	if jitter <= 0 {
		return delay
	}
	return delay - jitter/2 + time.Duration(time.Now().UnixNano()%int64(jitter))
}
