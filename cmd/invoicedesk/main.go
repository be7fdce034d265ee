package main

import "github.com/smallbiznis/invoicedesk/internal/cli"

func main() {
	cli.Execute()
}
