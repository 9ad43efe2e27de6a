package domain

// Status is the lifecycle state of an order, replicated independently in
// every actor. The wire carries the label verbatim, so the constants below
// are part of the message contract.
//
// Forward order:
//
//	CREATED → ENVIADO → RECEIVED → CONFIRMED → EM_ROTA → ENTREGUE → RECEBIDO
//
// FINALIZADO is an alternate terminal label ranked equal to RECEBIDO.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusSubmitted Status = "ENVIADO"
	StatusReceived  Status = "RECEIVED"
	StatusConfirmed Status = "CONFIRMED"
	StatusInTransit Status = "EM_ROTA"
	StatusDelivered Status = "ENTREGUE"
	StatusCompleted Status = "RECEBIDO"
	StatusFinalized Status = "FINALIZADO"
)

var statusRanks = map[Status]int{
	StatusCreated:   0,
	StatusSubmitted: 1,
	StatusReceived:  2,
	StatusConfirmed: 3,
	StatusInTransit: 4,
	StatusDelivered: 5,
	StatusCompleted: 6,
	StatusFinalized: 6,
}

// Valid reports whether s is a known status label.
func (s Status) Valid() bool {
	_, ok := statusRanks[s]
	return ok
}

// Terminal reports whether s is a final state. Terminal orders ignore all
// further status-bearing messages.
func (s Status) Terminal() bool {
	return statusRanks[s] == statusRanks[StatusCompleted] && s.Valid()
}

// Before reports whether s ranks strictly earlier than other. Unknown labels
// never rank before anything, so malformed statuses can never advance an
// order.
func (s Status) Before(other Status) bool {
	sr, ok := statusRanks[s]
	or, otherOK := statusRanks[other]
	if !ok || !otherOK {
		return false
	}
	return sr < or
}

func (s Status) String() string {
	return string(s)
}

// Advance is the shared transition function: it returns the status an order
// should hold after observing incoming. Only strict forward moves apply;
// duplicates, regressions and unknown labels leave current in place and
// report false.
func Advance(current, incoming Status) (Status, bool) {
	if current.Before(incoming) {
		return incoming, true
	}
	return current, false
}
