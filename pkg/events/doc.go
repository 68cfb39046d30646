/*
Package events provides a publish/subscribe broker for agency events.

The constituent publishes role and term transitions, the supervision loop
publishes job lifecycle transitions. Subscribers receive events on buffered
channels; a slow subscriber drops events rather than blocking the broker.
*/
package events
