// Command mediumcrawler crawls the paginated stream API into a relational
// store and serves the popular-posts read API over it.
//
// Usage:
//
//	mediumcrawler migrate --config configs/development.yaml
//	mediumcrawler crawl   --config configs/development.yaml
//	mediumcrawler serve   --config configs/development.yaml --crawl
package main

func main() {
	Execute()
}
