// Package lifecycle implements the lifecycle decision engine.
//
// Evaluate is a pure function of a Policy, the resource Facts and the status
// date: the same inputs always produce the same status and reason. Strategies
// form a closed set (Fixed, ByName, ByTag); configuration that names any other
// strategy is rejected when it is decoded.
//
// Boundaries are inclusive on the upper end of the alert window: with a 30 day
// retention and a 5 day alert lead, days 26 to 30 warn and day 31 deletes.
package lifecycle
