// Package crossing turns platform entry/exit callbacks into CrossingEvents
// and routes them to the application.
//
// While a responder is attached every accepted event is handed to it
// synchronously. While detached only the most recent event is kept, and a
// local notification may be posted in its place. Attaching hands over the
// kept event once.
package crossing
