// Package mediation hands inbound messages to the mediation engine.
//
// A Handler is created per listener. For every admitted unit of work the
// adapter calls Handler.Inject, which builds a MessageContext from the
// protocol payload, picks a document Builder by content type, resolves the
// configured sequence and injects the message. Failures of any kind come
// back as a *HandoffError; a panic inside the engine is recovered and
// reported the same way. When an onError sequence is configured, failed
// messages are injected there too.
//
// Two Engine implementations are provided: LocalEngine, which runs
// in-process sequences, and PublisherEngine, which forwards messages to a
// watermill publisher using the sequence name as the topic.
package mediation
