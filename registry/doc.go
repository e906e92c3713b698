// Package registry multiplexes the single realtime connection across many
// logical conversation subscribers.
//
// Listeners are plain callbacks invoked synchronously in registration
// order, so delivery for one conversation matches wire arrival order
// exactly. Subscribing returns an unsubscribe closure; when a
// conversation's last listener leaves, its entry is removed and interest is
// withdrawn from the connection manager, but the shared connection itself
// stays up for other subscribers.
package registry
