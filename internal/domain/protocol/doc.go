// Package protocol evaluates ordered treatment protocols against observed
// patient signs. Evaluation is a pure function: it takes a protocol, a sign
// collection and the currently active treatments, and returns the new set
// of active treatments.
package protocol
