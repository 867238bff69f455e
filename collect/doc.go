/*
Package collect gathers IPv4 addresses from web pages into a flat file.

A [Collector] loads the previous output as a cache of locations, runs a [Scraper] over its targets,
annotates addresses missing from the cache through an [Enricher], and writes the result with [WriteResults].
*/
package collect
