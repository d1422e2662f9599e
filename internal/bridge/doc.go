/*
Package bridge implements the host capability surface exposed to sandboxed
extension scripts: outbound HTTP, HTML parsing and querying, and small
crypto/encoding helpers.

Every bridge per sandbox instance owns its own HTTP client (cookie jars and
default headers are never shared across extensions) and one cancellation
handle that aborts all in-flight network calls for that instance.

# Failure policy

Network, parse, and encoding failures never cross the guest boundary as
faults. The guest language has no host-fault propagation channel, so every
operation returns plain data the guest can branch on: HTTP results carry an
ok flag plus an error string, queries return empty slices, decoders return
empty strings. Only live handles stay host-side; guests receive serialized
trees and strings.
*/
package bridge
