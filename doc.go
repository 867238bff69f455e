/*
Package ipsync keeps DNS A records in line with IP lists published on the web.

Usage will always start with [ipsync.New],
which returns a Client for a DNS provider registered with [UsingCloudflare] or [UsingProvider].
Each [Source] names a subdomain and a URL serving one IP per line;
[Client.Run] resolves the zone of every domain and replaces the A records of each subdomain
with the first entries of its list.

The replacement is done by deleting all existing records and inserting the new set,
see [Synchronizer].
*/
package ipsync
