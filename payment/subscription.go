package payment

import (
	"github.com/meshcredit/creditnode/queue"
	"github.com/meshcredit/creditnode/wire"
)

// subscriptionKit is the common plumbing behind both subscription kinds
// below: a ConcurrentQueue feeding a typed proxy goroutine, the same
// shape invoiceregistry.go's invoiceSubscriptionKit uses to decouple a
// slow subscriber from the dispatcher goroutine that produces events.
type subscriptionKit struct {
	id        uint64
	ntfnQueue *queue.ConcurrentQueue
	quit      chan struct{}
}

func newSubscriptionKit(id uint64) subscriptionKit {
	q := queue.NewConcurrentQueue(20)
	q.Start()
	return subscriptionKit{id: id, ntfnQueue: q, quit: make(chan struct{})}
}

func (k *subscriptionKit) push(item interface{}) {
	select {
	case k.ntfnQueue.ChanIn() <- item:
	case <-k.quit:
	}
}

func (k *subscriptionKit) stop() {
	close(k.quit)
	k.ntfnQueue.Stop()
}

// InvoiceSubscription delivers every state change of every invoice this
// registry tracks, mirroring invoiceregistry.go's all-invoices
// SubscribeNotifications feed.
type InvoiceSubscription struct {
	Updates <-chan *Invoice

	registry *Registry
	kit      subscriptionKit
}

// Cancel stops delivery and releases the subscription's resources.
func (s *InvoiceSubscription) Cancel() {
	s.registry.subMu.Lock()
	delete(s.registry.invoiceSubs, s.kit.id)
	s.registry.subMu.Unlock()
	s.kit.stop()
}

// SubscribeInvoices registers a new InvoiceSubscription.
func (r *Registry) SubscribeInvoices() *InvoiceSubscription {
	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	kit := newSubscriptionKit(id)

	updates := make(chan *Invoice)
	sub := &InvoiceSubscription{Updates: updates, registry: r, kit: kit}
	r.invoiceSubs[id] = sub
	r.subMu.Unlock()

	go proxyInvoiceUpdates(&kit, updates)
	return sub
}

func proxyInvoiceUpdates(kit *subscriptionKit, updates chan<- *Invoice) {
	for {
		select {
		case item, ok := <-kit.ntfnQueue.ChanOut():
			if !ok {
				return
			}
			select {
			case updates <- item.(*Invoice):
			case <-kit.quit:
				return
			}
		case <-kit.quit:
			return
		}
	}
}

// PaymentSubscription delivers the terminal state of one outgoing
// payment, mirroring invoiceregistry.go's SubscribeSingleInvoice: if the
// payment has already resolved by the time of subscription, that state is
// delivered immediately instead of being missed.
type PaymentSubscription struct {
	Updates <-chan *OutgoingPayment

	requestID wire.RequestID
	registry  *Registry
	kit       subscriptionKit
}

// Cancel stops delivery and releases the subscription's resources.
func (s *PaymentSubscription) Cancel() {
	s.registry.subMu.Lock()
	delete(s.registry.paymentSubs, s.kit.id)
	s.registry.subMu.Unlock()
	s.kit.stop()
}

// SubscribePayment registers a new PaymentSubscription for id. If the
// payment has already resolved, its current state is pushed immediately
// so a subscriber that arrives late doesn't miss it.
func (r *Registry) SubscribePayment(id wire.RequestID) *PaymentSubscription {
	r.subMu.Lock()
	subID := r.nextSubID
	r.nextSubID++
	kit := newSubscriptionKit(subID)

	updates := make(chan *OutgoingPayment)
	sub := &PaymentSubscription{Updates: updates, requestID: id, registry: r, kit: kit}
	r.paymentSubs[subID] = sub
	r.subMu.Unlock()

	go proxyPaymentUpdates(&kit, updates)

	if p, ok := r.LookupPayment(id); ok && p.State != PaymentPending {
		kit.push(p)
	}
	return sub
}

func proxyPaymentUpdates(kit *subscriptionKit, updates chan<- *OutgoingPayment) {
	for {
		select {
		case item, ok := <-kit.ntfnQueue.ChanOut():
			if !ok {
				return
			}
			select {
			case updates <- item.(*OutgoingPayment):
			case <-kit.quit:
				return
			}
		case <-kit.quit:
			return
		}
	}
}
