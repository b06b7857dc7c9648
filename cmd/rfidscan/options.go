package main

type Options struct {
	ConfigFile  string   `required:"no" short:"c" long:"config" description:"YAML configuration file"`
	Transports  []string `required:"no" short:"t" long:"transport" description:"Transport to probe (serial, bluetooth, usb, pcsc), repeat to set the order"`
	Scan        bool     `required:"no" short:"s" long:"scan" description:"Start an inventory once connected"`
	All         bool     `required:"no" short:"a" long:"all" description:"Report every tag of a read batch, not only the first"`
	Json        bool     `required:"no" short:"j" long:"json" description:"Print reads as JSON lines"`
	Watch       bool     `required:"no" short:"w" long:"watch" description:"Keep running and connect again when a reader is plugged in"`
	Debug       bool     `required:"no" short:"d" long:"debug" description:"Enable debug logging"`
	ShowVersion bool     `required:"no" short:"v" long:"version" description:"Show version and exit"`
}
