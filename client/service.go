package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusfabric/dxlclient-go/message"
	"github.com/nexusfabric/dxlclient-go/types"
)

// RequestCallback handles an inbound Request addressed to a registered
// service (spec.md §4.7).
type RequestCallback func(req *message.Message)

// ServiceRegistrationInfo describes a service this client offers: the
// topics it answers Requests on, and how long the fabric's registry should
// consider the registration valid before a refresh is required.
type ServiceRegistrationInfo struct {
	ServiceType string
	InstanceID  string // generated if empty
	Topics      map[string]RequestCallback
	TTL         time.Duration // 0 uses Tunables.ServiceTTLDefault
}

// ServiceRegistrationToken is the owner-held handle returned by
// RegisterService; pass it to UnregisterService to withdraw. Unlike the
// InstanceID string, a token cannot be guessed or replayed by an unrelated
// caller, which is why the registry keys its internal bookkeeping off the
// token identity rather than the instance id alone (spec.md Design Notes).
type ServiceRegistrationToken struct {
	instanceID string
}

type registeredService struct {
	token  *ServiceRegistrationToken
	info   ServiceRegistrationInfo
	ttl    time.Duration
	stopCh chan struct{}

	mu           sync.Mutex
	registeredAt time.Time // set on the last registration Response that wasn't an error
}

func (svc *registeredService) lastRegisteredAt() time.Time {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.registeredAt
}

func (svc *registeredService) markRegistered(at time.Time) {
	svc.mu.Lock()
	svc.registeredAt = at
	svc.mu.Unlock()
}

// serviceRegistry tracks every service this client has registered with the
// fabric, ref-counts the topic subscriptions they share, and keeps each
// registration alive with a periodic TTL refresh (spec.md §4.7).
type serviceRegistry struct {
	logger   types.Logger
	tunables Tunables

	publish     func(topic string, payload []byte) error
	subscribe   func(topic string) error
	unsub       func(topic string) error
	syncRequest func(req *message.Message, timeout time.Duration) (*message.Message, error)
	codec       message.Codec
	clientID    string
	replyTopic  string

	mu        sync.Mutex
	byToken   map[*ServiceRegistrationToken]*registeredService
	topicRefs map[string]int
	wg        sync.WaitGroup
}

func newServiceRegistry(codec message.Codec, clientID, replyTopic string, tun Tunables, logger types.Logger) *serviceRegistry {
	return &serviceRegistry{
		logger:     logger,
		tunables:   tun,
		codec:      codec,
		clientID:   clientID,
		replyTopic: replyTopic,
		byToken:    make(map[*ServiceRegistrationToken]*registeredService),
		topicRefs:  make(map[string]int),
	}
}

// RegisterService subscribes to every topic in info.Topics (ref-counted
// against any other service already using them), sends the initial
// registration Request, and starts the TTL refresh loop. The returned
// token is required to unregister. The initial registration Request is
// sent before RegisterService returns; see RegisterServiceAsync for a
// variant that sends it from a background goroutine instead.
//
// Re-adding a service under an InstanceID that is already registered is
// treated as an update (diff the topic sets, subscribe/unsubscribe the
// difference, re-publish the registration) rather than an error, as long as
// ServiceType also matches; a mismatched ServiceType on the same
// InstanceID is rejected as a distinct service occupying the slot
// (spec.md §8).
func (r *serviceRegistry) RegisterService(info ServiceRegistrationInfo) (*ServiceRegistrationToken, error) {
	return r.registerService(info, false)
}

// RegisterServiceAsync behaves like RegisterService but does not wait for
// the initial registration publish to complete before returning: the
// caller gets its token immediately and any publish failure is only
// logged, matching the client façade's registerServiceAsync (spec.md
// §4.8).
func (r *serviceRegistry) RegisterServiceAsync(info ServiceRegistrationInfo) (*ServiceRegistrationToken, error) {
	return r.registerService(info, true)
}

func (r *serviceRegistry) registerService(info ServiceRegistrationInfo, background bool) (*ServiceRegistrationToken, error) {
	ttl := info.TTL
	if ttl <= 0 {
		ttl = time.Duration(r.tunables.ServiceTTLDefault) * time.Duration(r.tunables.ttlResolutionSeconds()) * time.Second
	}

	if info.InstanceID != "" {
		r.mu.Lock()
		for _, existing := range r.byToken {
			if existing.info.InstanceID != info.InstanceID {
				continue
			}
			if existing.info.ServiceType != info.ServiceType {
				r.mu.Unlock()
				return nil, NewServiceAlreadyRegisteredError(info.InstanceID)
			}
			r.mu.Unlock()
			return r.updateService(existing, info, ttl, background)
		}
		r.mu.Unlock()
	} else {
		info.InstanceID = uuid.NewString()
	}

	token := &ServiceRegistrationToken{instanceID: info.InstanceID}

	r.mu.Lock()
	for topic := range info.Topics {
		r.topicRefs[topic]++
	}
	svc := &registeredService{token: token, info: info, ttl: ttl, stopCh: make(chan struct{})}
	r.byToken[token] = svc
	r.mu.Unlock()

	for topic := range info.Topics {
		if err := r.subscribe(topic); err != nil {
			r.logger.Error("failed to subscribe service topic %q: %v", topic, err)
		}
	}

	var regErr error
	if background {
		go func() {
			if err := r.sendRegistration(svc); err != nil {
				r.logger.Error("initial service registration for %q failed: %v", info.InstanceID, err)
			}
		}()
	} else {
		regErr = r.sendRegistration(svc)
		if regErr != nil {
			r.logger.Error("initial service registration for %q failed: %v", info.InstanceID, regErr)
		}
	}

	r.wg.Add(1)
	go r.refreshLoop(svc)

	return token, regErr
}

// updateService folds a re-add of an already-registered InstanceID into
// the existing registration: topics present in the new info but not the
// old are subscribed, topics dropped are unsubscribed (subject to the
// usual ref-count), and the registration is re-published under the
// existing token (spec.md §8).
func (r *serviceRegistry) updateService(svc *registeredService, info ServiceRegistrationInfo, ttl time.Duration, background bool) (*ServiceRegistrationToken, error) {
	r.mu.Lock()
	var added, removed []string
	for topic := range info.Topics {
		if _, ok := svc.info.Topics[topic]; !ok {
			added = append(added, topic)
			r.topicRefs[topic]++
		}
	}
	for topic := range svc.info.Topics {
		if _, ok := info.Topics[topic]; !ok {
			removed = append(removed, topic)
			r.topicRefs[topic]--
		}
	}
	var released []string
	for _, topic := range removed {
		if r.topicRefs[topic] <= 0 {
			delete(r.topicRefs, topic)
			released = append(released, topic)
		}
	}
	svc.info = info
	svc.ttl = ttl
	token := svc.token
	r.mu.Unlock()

	for _, topic := range added {
		if err := r.subscribe(topic); err != nil {
			r.logger.Error("failed to subscribe service topic %q: %v", topic, err)
		}
	}
	r.releaseTopics(released)

	var regErr error
	if background {
		go func() {
			if err := r.sendRegistration(svc); err != nil {
				r.logger.Error("service registration update for %q failed: %v", svc.info.InstanceID, err)
			}
		}()
	} else {
		regErr = r.sendRegistration(svc)
		if regErr != nil {
			r.logger.Error("service registration update for %q failed: %v", svc.info.InstanceID, regErr)
		}
	}
	return token, regErr
}

// UnregisterService withdraws the registration identified by token: stops
// the refresh loop, sends the unregister Request synchronously, and
// releases any topic subscription that no other service still references.
func (r *serviceRegistry) UnregisterService(token *ServiceRegistrationToken) error {
	svc, topicsToRelease, err := r.deregister(token)
	if err != nil {
		return err
	}
	unregErr := r.sendUnregistration(svc)
	r.releaseTopics(topicsToRelease)
	return unregErr
}

// UnregisterServiceAsync behaves like UnregisterService but sends the
// unregister Request from a background goroutine, matching the client
// façade's unregisterServiceAsync (spec.md §4.8).
func (r *serviceRegistry) UnregisterServiceAsync(token *ServiceRegistrationToken) error {
	svc, topicsToRelease, err := r.deregister(token)
	if err != nil {
		return err
	}
	go func() {
		if err := r.sendUnregistration(svc); err != nil {
			r.logger.Error("service unregistration for %q failed: %v", svc.info.InstanceID, err)
		}
	}()
	r.releaseTopics(topicsToRelease)
	return nil
}

func (r *serviceRegistry) deregister(token *ServiceRegistrationToken) (*registeredService, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.byToken[token]
	if !ok {
		return nil, nil, NewServiceUnknownError(token.instanceID)
	}
	delete(r.byToken, token)
	var topicsToRelease []string
	for topic := range svc.info.Topics {
		r.topicRefs[topic]--
		if r.topicRefs[topic] <= 0 {
			delete(r.topicRefs, topic)
			topicsToRelease = append(topicsToRelease, topic)
		}
	}
	close(svc.stopCh)
	return svc, topicsToRelease, nil
}

func (r *serviceRegistry) releaseTopics(topics []string) {
	for _, topic := range topics {
		if err := r.unsub(topic); err != nil {
			r.logger.Error("failed to unsubscribe service topic %q: %v", topic, err)
		}
	}
}

// Dispatch routes an inbound Request to the service(s) registered for its
// DestinationTopic: when req.ServiceID names a specific instance, only
// that service's callback runs; when it is absent, the Request broadcasts
// to every registered service whose topic set contains the destination
// topic (spec.md §9's stated assumption for serviceId-less Requests).
// Replies with a ServiceUnknown ErrorResponse only when a ServiceID was
// given and no service with that InstanceID handles the destination topic.
func (r *serviceRegistry) Dispatch(req *message.Message) (handled bool) {
	r.mu.Lock()
	var cbs []RequestCallback
	for _, svc := range r.byToken {
		if req.ServiceID != "" && svc.info.InstanceID != req.ServiceID {
			continue
		}
		if c, ok := svc.info.Topics[req.DestinationTopic]; ok {
			cbs = append(cbs, c)
			if req.ServiceID != "" {
				break
			}
		}
	}
	r.mu.Unlock()

	if len(cbs) == 0 {
		if req.ServiceID != "" {
			r.replyServiceUnavailable(req)
		}
		return false
	}
	for _, cb := range cbs {
		cb(req)
	}
	return true
}

func (r *serviceRegistry) replyServiceUnavailable(req *message.Message) {
	errResp := message.NewErrorResponse(uuid.NewString(), r.clientID, req, message.FabricServiceUnavailable, "service unavailable")
	payload, err := r.codec.Encode(errResp)
	if err != nil {
		r.logger.Error("failed to encode ServiceUnavailable response: %v", err)
		return
	}
	if err := r.publish(errResp.DestinationTopic, payload); err != nil {
		r.logger.Error("failed to publish ServiceUnavailable response: %v", err)
	}
}

func (r *serviceRegistry) refreshLoop(svc *registeredService) {
	defer r.wg.Done()
	interval := svc.ttl
	if interval <= 0 {
		// A zero TTL (unset tunables) falls back to one TTL unit, since
		// time.NewTicker panics on a non-positive interval.
		interval = time.Duration(r.tunables.ttlResolutionSeconds()) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-svc.stopCh:
			return
		case <-ticker.C:
			if err := r.sendRegistration(svc); err != nil {
				r.logger.Warn("service TTL refresh for %q failed: %v", svc.info.InstanceID, err)
			}
		}
	}
}

func (r *serviceRegistry) sendRegistration(svc *registeredService) error {
	resp, err := r.sendServiceEvent(svc, ServiceRegisterRequestTopic)
	if err != nil {
		return err
	}
	if resp != nil && resp.Kind == message.KindErrorResponse {
		return NewConfigError(fmt.Sprintf("service registration for %q rejected by the fabric: %s", svc.info.InstanceID, resp.ErrorMessage), nil)
	}
	svc.markRegistered(time.Now())
	return nil
}

// sendUnregistration publishes the unregister Request, unless the grace
// window since the last successful registration has already elapsed: once
// more than (ttl+gracePeriod)×60/resolution seconds have passed, the
// fabric's registry has already expired the entry on its own, so the event
// is omitted rather than sent against a registration that no longer exists
// (spec.md §4.7).
func (r *serviceRegistry) sendUnregistration(svc *registeredService) error {
	last := svc.lastRegisteredAt()
	if !last.IsZero() {
		grace := r.tunables.ServiceTTLGracePeriod
		if grace <= 0 {
			grace = 10 * time.Minute
		}
		grace = grace * time.Duration(r.tunables.ttlResolutionSeconds()) / 60
		if time.Since(last) > svc.ttl+grace {
			r.logger.Debug("omitting unregister for %q: registration already expired on the fabric", svc.info.InstanceID)
			return nil
		}
	}
	_, err := r.sendServiceEvent(svc, ServiceUnregisterRequestTopic)
	return err
}

// sendServiceEvent publishes a register/unregister Request and, when
// syncRequest has been wired (the live client always wires it; tests may
// leave it nil for a fire-and-forget fake), awaits its Response
// synchronously rather than returning as soon as the publish succeeds
// (spec.md §4.7: "await its Response synchronously, on a different thread
// from any dispatcher").
func (r *serviceRegistry) sendServiceEvent(svc *registeredService, topic string) (*message.Message, error) {
	topics := make([]byte, 0, 64)
	for t := range svc.info.Topics {
		topics = append(topics, []byte(t+"\n")...)
	}
	req := message.NewRequest(uuid.NewString(), r.clientID, topic, r.replyTopic, topics)
	req.OtherFields = map[string]string{
		"serviceType": svc.info.ServiceType,
		"instanceId":  svc.info.InstanceID,
	}

	if r.syncRequest == nil {
		payload, err := r.codec.Encode(req)
		if err != nil {
			return nil, NewConfigError("failed to encode service registration event", err)
		}
		return nil, r.publish(topic, payload)
	}

	timeout := r.tunables.DefaultRequestWait
	if timeout <= 0 {
		timeout = time.Minute
	}
	return r.syncRequest(req, timeout)
}

func (r *serviceRegistry) Close() {
	r.mu.Lock()
	var tokens []*ServiceRegistrationToken
	for t := range r.byToken {
		tokens = append(tokens, t)
	}
	r.mu.Unlock()
	for _, t := range tokens {
		_ = r.UnregisterService(t)
	}
	r.wg.Wait()
}
