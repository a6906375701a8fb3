/*
Package events provides an in-memory broker for migration lifecycle events.

Database migrators publish events as they connect, finish chunks and reach
done; subscribers such as the progress reporter consume them without slowing
the migration down. Publishing never blocks: if the broker queue or a
subscriber buffer is full, the event is dropped for that consumer. Events are
therefore suitable for display and notification, not for accounting; the
authoritative counters live in the MigrationResult of each database.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.DB, ev.Keys)
		}
	}()
*/
package events
