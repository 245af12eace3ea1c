// Package fcm is a notifications.PushTransport for Firebase Cloud Messaging
// using the multicast HTTP API (registration_ids in, per-token results
// out). Requests are batched at the provider limit and sent with resty.
//
//	client, err := fcm.New(cfg)
//	push := notifications.NewPushChannel(client, store, renderer)
//
// DevTransport accepts every token without network access and is used when
// no server key is configured.
package fcm
