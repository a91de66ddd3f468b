// Package router decides how a request is served.
//
// Classifier separates capability-requiring tasks from plain chat using
// cheap deterministic rules first and a single model call only for ambiguous
// input. Selector asks the model which registered capabilities a task needs.
// Both degrade to the least capable behavior on failure: plain chat and an
// empty capability set respectively.
package router
