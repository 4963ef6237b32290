package dal

import (
	"rex-hertz/biz/dal/kafka"
	"rex-hertz/biz/dal/pg"
	"rex-hertz/biz/dal/redis"
)

func Init() {
	pg.Init()
	redis.Init()
	kafka.Init()
}
