/*
Package schema provides lightweight structural validation for decoded JSON
payloads.

The durability layer validates snapshot payloads against a schema before
trusting them on recovery: a snapshot that passes its checksum but decodes
into the wrong shape is still rejected as corrupt.
*/
package schema
