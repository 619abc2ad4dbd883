package trcb

// DeliveryHandler is invoked by a Node once per message it delivers, in causal order,
// once the message's timestamp is admissible per §4.C. If it returns an error, the Node
// logs it (wrapped in a HandlerError), leaves the message buffered without advancing
// its version vector past it, and ends the current delivery scan; the message is
// offered to the handler again on a later scan. For the Node's own broadcasts delivered
// under Config.DeliverLocally, an error is only logged.
type DeliveryHandler func(ts VClock, body []byte) error

// MembershipHandler is invoked when a Node's known member set changes. Membership
// discovery itself is out of scope (§1 Non-goals); this only notifies of changes a
// caller pushed via Node's membership-update operation.
type MembershipHandler func(members []ActorID)
